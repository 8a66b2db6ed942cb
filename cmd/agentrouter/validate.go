package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/routeerr"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a router configuration file (JSON, YAML or TOML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agentrouter.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := agentrouter.ValidateConfig(*cfg); err != nil {
				for _, v := range routeerr.Details(err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", v)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config is valid")
			fmt.Fprintf(out, "  default:    %s\n", cfg.Models.Default)
			fmt.Fprintf(out, "  think:      %s\n", cfg.Models.Think)
			fmt.Fprintf(out, "  fast:       %s\n", cfg.Models.Fast)
			fmt.Fprintf(out, "  retries:    %d\n", cfg.MaxAttempts())

			names := cfg.ProviderNames()
			sort.Strings(names)
			fmt.Fprintf(out, "  providers:  %s\n", strings.Join(names, ", "))
			for _, slot := range unservedModels(*cfg) {
				fmt.Fprintf(out, "  warning: no provider serves %s\n", slot)
			}
			return nil
		},
	}
}

// unservedModels lists "slot (model)" for each model slot that no provider
// declares.
func unservedModels(cfg agentrouter.RouterConfig) []string {
	served := make(map[string]bool)
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			served[m] = true
		}
	}
	slots := []struct{ name, model string }{
		{"default", cfg.Models.Default},
		{"coder", cfg.Models.Coder},
		{"tool", cfg.Models.Tool},
		{"think", cfg.Models.Think},
		{"fast", cfg.Models.Fast},
		{"longContext", cfg.Models.LongContext},
	}
	var out []string
	for _, s := range slots {
		if !served[s.model] {
			out = append(out, fmt.Sprintf("%s (%s)", s.name, s.model))
		}
	}
	return out
}
