package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/importer"
	"github.com/conorfennell/flashsync/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import [source...]",
	Short: "Import cards from markdown directories or git repositories",
	Long: "Import cards from every registered source, the sources listed in the config " +
		"and any given on the command line. A source is a local directory or a git URL.",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		var registry importer.Registry
		if db, ok := backend.(*storage.DB); ok {
			registry = db
		}
		im := importer.New(h, registry, cfg.ReposDir, logger)
		reports, err := im.Run(cmd.Context(), append(cfg.Sources, args...))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range reports {
			fmt.Fprintf(out, "%s: %d parsed, %d added, %d skipped\n", r.Source, r.Parsed, r.Added, r.Skipped)
			for _, e := range r.Errors {
				fmt.Fprintf(out, "  - %s\n", e)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the card store as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		st, err := h.Load(cmd.Context())
		if err != nil {
			return err
		}
		raw, err := cardstore.Encode(st)
		if err != nil {
			return err
		}
		raw = pretty.Pretty(raw)
		if color, _ := cmd.Flags().GetBool("color"); color {
			raw = pretty.Color(raw, nil)
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	},
}

func init() {
	exportCmd.Flags().Bool("color", false, "Colorize the output")
}
