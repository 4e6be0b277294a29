package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newSourcesCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured sources",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List every registered source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := loadSystem(global, true)
			if err != nil {
				return err
			}
			defer sys.Close()

			if asJSON {
				return printJSON(os.Stdout, sourceRows(sys.registry))
			}
			printSourcesTable(os.Stdout, sys.registry)
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	cmd.AddCommand(list)
	return cmd
}
