package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quilldev/quill/pkg/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models from the registry",
	Long: `Models lists every model the registry knows about: the embedded
defaults plus ~/.quill/models.json (or QUILL_MODELS_PATH) when present.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listModels()
	},
}

func listModels() error {
	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tMAX OUT\tREASONING")
	for _, spec := range registry.Specs() {
		reasoning := ""
		if spec.Reasoning {
			reasoning = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			spec.ID, spec.Provider, spec.ContextWindow, spec.MaxTokens, reasoning)
	}
	return w.Flush()
}
