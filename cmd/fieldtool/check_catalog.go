package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
)

func newCheckCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-catalog [path]",
		Short: "Validate a field type catalog against the built-in field types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config/fieldtypes.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			catalog, err := fieldtypes.LoadCatalog(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			registry := fieldtypes.NewRegistry(fieldtypes.Deps{})
			if err := registry.Restrict(catalog); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range registry.Descriptors() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Key, d.Kind, d.Name)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d field types enabled\n", path, len(registry.Descriptors()), len(catalog.FieldTypes))
			return nil
		},
	}
}
