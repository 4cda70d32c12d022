package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mlserve/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	addr        string
	logLevel    string
	corsOrigins string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mlserve",
		Short:         "Model manager for speech, motion and text models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Flags with environment variable defaults
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("MLSERVE_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config and MLSERVE_ADDR)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config and MLSERVE_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS when set")

	root.AddCommand(newServeCmd(opts), newModelsCmd(opts), newProbeCmd(opts))
	return root
}

// loadConfig reads the config file, then lets explicit flags win over both
// the file and the environment.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if origins := splitCSV(opts.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = origins
	}
	return cfg, nil
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
