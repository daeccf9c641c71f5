package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quilldev/quill/pkg/config"
	"github.com/quilldev/quill/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions()
	},
}

func listSessions() error {
	cfgPath := flagConfig
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	dir := ""
	if cfg.Session != nil {
		dir = cfg.Session.Dir
	}
	if dir == "" {
		dir, err = session.DefaultDir()
		if err != nil {
			return err
		}
	}

	infos, err := session.List(dir)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODIFIED\tENTRIES\tMODEL\tDIRECTORY")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			info.ID,
			info.ModifiedAt.Format("2006-01-02 15:04"),
			info.Entries,
			info.Model,
			info.Cwd)
	}
	return w.Flush()
}
