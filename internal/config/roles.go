package config

import (
	"fmt"
	"strings"
)

// RolesConfig lists, per role, the ordered model ids to try. The first entry is preferred.
type RolesConfig struct {
	Navigator  []string `mapstructure:"navigator"`
	Generator  []string `mapstructure:"generator"`
	Debugger   []string `mapstructure:"debugger"`
	Structurer []string `mapstructure:"structurer"`
	Summarizer []string `mapstructure:"summarizer"`
}

// AsMap returns the role table keyed by role name.
func (r RolesConfig) AsMap() map[string][]string {
	return map[string][]string{
		"navigator":  r.Navigator,
		"generator":  r.Generator,
		"debugger":   r.Debugger,
		"structurer": r.Structurer,
		"summarizer": r.Summarizer,
	}
}

func (r *RolesConfig) trim() {
	for _, ids := range [][]string{r.Navigator, r.Generator, r.Debugger, r.Structurer, r.Summarizer} {
		for i, id := range ids {
			ids[i] = strings.TrimSpace(id)
		}
	}
}

func (r RolesConfig) validate(models map[string]ModelConfig) error {
	for role, ids := range r.AsMap() {
		if len(ids) == 0 {
			return fmt.Errorf("roles.%s must list at least one model", role)
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := models[id]; !ok {
				return fmt.Errorf("roles.%s references unknown model %q", role, id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("roles.%s lists model %q twice", role, id)
			}
			seen[id] = struct{}{}
		}
	}
	if m := models[r.Structurer[0]]; !m.SchemaOutput {
		return fmt.Errorf("roles.structurer model %q must support schema_output", r.Structurer[0])
	}
	return nil
}
