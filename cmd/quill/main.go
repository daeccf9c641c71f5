// Command quill is a coding agent for the terminal: it streams model
// turns, dispatches tool calls, and records the conversation under
// ~/.quill/sessions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagModel    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill is a coding agent for your terminal",
	Long: `Quill runs a model-driven agent loop in your terminal: it sends your
prompt to a completion service, streams the response, executes the tool
calls the model makes, and feeds the results back until the task is done.

Conversations are recorded under ~/.quill/sessions and can be resumed
with --resume.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.quill/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "model ID from the registry (see `quill models`)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
