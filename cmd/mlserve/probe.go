package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"mlserve/internal/hardware"
	"mlserve/internal/manager"
	"mlserve/pkg/types"
)

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report CPUs, memory, GPUs and the usable model runtimes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			info, err := hardware.NewProber().Probe(cmd.Context())
			if err != nil {
				return err
			}
			printProbe(cmd.OutOrStdout(), info, manager.CheckRuntimes(cfg.Worker.Bin))
			return nil
		},
	}
}

func printProbe(w io.Writer, info hardware.Info, rt manager.RuntimeReport) {
	fmt.Fprintf(w, "cpus:    %d logical, %d physical\n", info.LogicalCPUs, info.PhysicalCPUs)
	fmt.Fprintf(w, "memory:  %d MiB total, %d MiB available\n", info.TotalMemory>>20, info.AvailableMemory>>20)
	if len(info.GPUs) == 0 {
		fmt.Fprintln(w, "gpus:    none")
	}
	for _, g := range info.GPUs {
		fmt.Fprintf(w, "gpu %d:   %s, %d MiB total, %d MiB free\n", g.Index, g.Name, g.TotalMemory>>20, g.FreeMemory>>20)
	}
	names := make([]string, 0, len(rt.Native))
	for t := range rt.Native {
		names = append(names, string(t))
	}
	sort.Strings(names)
	for _, n := range names {
		state := "not built"
		if rt.Native[types.ModelType(n)] {
			state = "built"
		}
		fmt.Fprintf(w, "native %s: %s\n", n, state)
	}
	if rt.WorkerFound {
		fmt.Fprintf(w, "worker:  %s\n", rt.WorkerBin)
	} else {
		fmt.Fprintf(w, "worker:  unavailable (%s)\n", rt.Error)
	}
}
