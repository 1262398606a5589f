package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"facegate/internal/common/fsutil"
	"facegate/internal/config"
	"facegate/internal/manager"
)

// defaultConfigPaths are tried in order when --config is not given.
var defaultConfigPaths = []string{
	"facegate.yaml", "facegate.yml", "facegate.toml", "facegate.json",
	"~/.config/facegate/config.yaml",
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "facegate",
		Short:         "Admission-controlled face verification service",
		Version:       manager.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .json, .toml); defaults to ./facegate.yaml if present")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(newServeCmd(opts), newConfigCmd(opts))
	return root
}

// loadConfig resolves file, then environment, then the log-level flag.
// Command-specific flags are applied by the caller before Validate.
func loadConfig(opts *rootOptions, lookup func(string) (string, bool)) (config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = fsutil.FirstExisting(defaultConfigPaths...)
	} else if p, err := fsutil.ExpandHome(path); err == nil {
		path = p
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, path, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, path, fmt.Errorf("environment: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, path, nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("config requires a subcommand: print|validate")
		},
	}
	var format string
	printCmd := &cobra.Command{
		Use:     "print",
		Short:   "Print the merged configuration (defaults, file, environment)",
		Example: "  facegate config print --format toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			b, err := config.Encode(redact(cfg), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	printCmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml|json|toml")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the merged configuration and exit non-zero on errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", path)
			return nil
		},
	}
	cmd.AddCommand(printCmd, validateCmd)
	return cmd
}

// redact masks credentials before printing.
func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cfg.Comparator.APIKey)
	mask(&cfg.Backend.APIKey)
	mask(&cfg.ImageHost.APIKey)
	mask(&cfg.ImageHost.APISecret)
	mask(&cfg.Stats.RedisPassword)
	return cfg
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
