package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mlserve/internal/registry"
	"mlserve/pkg/types"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List configured models without loading them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			reg, err := registry.Build(cfg.Models)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), reg.All(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")
	return cmd
}

func printModels(w io.Writer, descs []types.ModelDescriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tRUNTIME\tDEVICE\tENABLED\tPRELOAD\tBUDGET_MB")
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\t%d\n", d.Name, d.Type, d.Runtime, d.Device, d.Enabled, d.Preload, d.MemoryBudget>>20)
	}
	return tw.Flush()
}
