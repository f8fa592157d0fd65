package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/Anko59/AutoHubble/internal/llm"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))
			chains := cfg.Roles.AsMap()
			for _, role := range llm.AgentRoles {
				fmt.Fprintf(out, "  %-10s %d model(s)\n", role, len(chains[role.String()]))
			}
			for name, p := range cfg.Providers {
				if p.APIKey == "" && p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) == "" {
					fmt.Fprintf(out, "Warning: provider %s expects %s to be set\n", name, p.APIKeyEnv)
				}
			}
			fmt.Fprintf(out, "Browser: %s, output: %s, metrics: %v\n", cfg.Browser.Driver, cfg.Workspace.OutputDir, cfg.Server.MetricsEnabled)
			if _, err := exec.LookPath(cfg.Runner.Command[0]); err != nil {
				fmt.Fprintf(out, "Warning: runner command %q not found in PATH\n", cfg.Runner.Command[0])
			}
			return nil
		},
	}
}
