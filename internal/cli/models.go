package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/llm"
)

// NewModelsCmd prints the model catalog and the role fallback table.
func NewModelsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models and role fallback chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			catalog := newTable(cmd)
			catalog.AppendHeader(table.Row{"ID", "Provider", "Model", "Context", "Output", "Retries", "Upstreams", "Roles"})
			roles := rolesByModel(cfg.Roles)
			ids := make([]string, 0, len(cfg.Models))
			for id := range cfg.Models {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				m := cfg.Models[id]
				spec := llm.ModelSpec{StructuredOutput: m.StructuredOutput, SchemaTypedOutput: m.SchemaOutput}
				catalog.AppendRow(table.Row{
					id, m.Provider, m.Model, m.ContextLength, spec.Delivery(), m.Retries,
					strings.Join(m.Upstreams, ", "), strings.Join(roles[id], ", "),
				})
			}
			catalog.Render()
			fmt.Fprintln(cmd.OutOrStdout())

			chains := newTable(cmd)
			chains.AppendHeader(table.Row{"Role", "Fallback chain"})
			byRole := cfg.Roles.AsMap()
			for _, role := range llm.AgentRoles {
				chains.AppendRow(table.Row{role.String(), strings.Join(byRole[role.String()], " > ")})
			}
			chains.Render()
			return nil
		},
	}
}

func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(cmd.OutOrStdout())
	return t
}

func rolesByModel(roles config.RolesConfig) map[string][]string {
	out := make(map[string][]string)
	chains := roles.AsMap()
	for _, role := range llm.AgentRoles {
		for _, id := range chains[role.String()] {
			out[id] = append(out[id], role.String())
		}
	}
	return out
}
