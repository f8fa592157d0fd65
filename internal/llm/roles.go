package llm

import (
	"fmt"
	"strings"
)

// AgentRole names a purpose for which a fallback chain of models is configured.
type AgentRole string

const (
	RoleNavigator  AgentRole = "navigator"
	RoleGenerator  AgentRole = "generator"
	RoleDebugger   AgentRole = "debugger"
	RoleStructurer AgentRole = "structurer"
	RoleSummarizer AgentRole = "summarizer"
)

// AgentRoles lists every role in a stable order.
var AgentRoles = []AgentRole{RoleNavigator, RoleGenerator, RoleDebugger, RoleStructurer, RoleSummarizer}

// ParseAgentRole maps a config key to a role.
func ParseAgentRole(s string) (AgentRole, error) {
	role := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range AgentRoles {
		if r == role {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r AgentRole) String() string {
	return string(r)
}
