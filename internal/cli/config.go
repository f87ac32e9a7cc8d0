package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/thrash/internal/config"
	thrashschema "github.com/Paintersrp/thrash/schema"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with run manifests",
	}
	cmd.AddCommand(newConfigLintCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a run manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultManifest
			if flag := cmd.Flag("file"); flag != nil {
				if value := flag.Value.String(); value != "" {
					path = value
				}
			}

			manifest, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stressors)\n", path, len(manifest.Stressors))
			return nil
		},
	}
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for run manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(thrashschema.RunV1Schema)
			return err
		},
	}
}
