package llm

import (
	"fmt"
	"sort"
)

// Delivery is the way a model can be asked for structured data.
type Delivery int

const (
	// DeliveryUnstructured models answer in free text; a structurer converts it.
	DeliveryUnstructured Delivery = iota
	// DeliveryStructured models emit JSON that is parsed permissively.
	DeliveryStructured
	// DeliverySchemaTyped models honor a strict JSON schema natively.
	DeliverySchemaTyped
)

func (d Delivery) String() string {
	switch d {
	case DeliverySchemaTyped:
		return "schema"
	case DeliveryStructured:
		return "json"
	default:
		return "text"
	}
}

// ModelSpec describes one usable model and how to reach it.
type ModelSpec struct {
	ID                string
	Name              string
	Provider          string
	Description       string
	ContextLength     int
	StructuredOutput  bool
	SchemaTypedOutput bool
	Retries           int
	Upstreams         []string
	Temperature       float64
	MaxTokens         int
}

// Delivery reports the strongest output mode the model supports.
func (m ModelSpec) Delivery() Delivery {
	switch {
	case m.StructuredOutput && m.SchemaTypedOutput:
		return DeliverySchemaTyped
	case m.StructuredOutput:
		return DeliveryStructured
	default:
		return DeliveryUnstructured
	}
}

// Registry resolves models to providers and roles to fallback chains.
// It is filled once at startup and only read afterwards.
type Registry struct {
	providers map[string]Provider
	models    map[string]ModelSpec
	roles     map[AgentRole][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelSpec),
		roles:     make(map[AgentRole][]string),
	}
}

// RegisterProvider adds a provider implementation.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.providers[name] = p
}

// RegisterModel adds a model spec keyed by its ID.
func (r *Registry) RegisterModel(spec ModelSpec) {
	if spec.Name == "" {
		spec.Name = spec.ID
	}
	r.models[spec.ID] = spec
}

// SetRole binds a role to an ordered list of model IDs.
func (r *Registry) SetRole(role AgentRole, modelIDs []string) error {
	if len(modelIDs) == 0 {
		return fmt.Errorf("role %s: empty model list", role)
	}
	for _, id := range modelIDs {
		if _, ok := r.models[id]; !ok {
			return fmt.Errorf("role %s: %w %q", role, ErrUnknownModel, id)
		}
	}
	r.roles[role] = append([]string(nil), modelIDs...)
	return nil
}

// Resolve returns the provider and spec for a given model ID.
func (r *Registry) Resolve(modelID string) (Provider, ModelSpec, error) {
	spec, ok := r.models[modelID]
	if !ok {
		return nil, ModelSpec{}, fmt.Errorf("%w %q", ErrUnknownModel, modelID)
	}

	p, ok := r.providers[spec.Provider]
	if !ok {
		return nil, ModelSpec{}, fmt.Errorf("provider %q not registered for model %q", spec.Provider, modelID)
	}

	return p, spec, nil
}

// ModelsFor returns the fallback chain configured for role, in order.
func (r *Registry) ModelsFor(role AgentRole) ([]ModelSpec, error) {
	ids, ok := r.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	out := make([]ModelSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.models[id])
	}
	return out, nil
}

// Structurer returns the first structurer model.
func (r *Registry) Structurer() (Provider, ModelSpec, error) {
	ids := r.roles[RoleStructurer]
	if len(ids) == 0 {
		return nil, ModelSpec{}, fmt.Errorf("%w: %s", ErrUnknownRole, RoleStructurer)
	}
	return r.Resolve(ids[0])
}

// Models lists all registered models sorted by ID.
func (r *Registry) Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RolesOf lists the roles that reference modelID.
func (r *Registry) RolesOf(modelID string) []AgentRole {
	var out []AgentRole
	for _, role := range AgentRoles {
		for _, id := range r.roles[role] {
			if id == modelID {
				out = append(out, role)
				break
			}
		}
	}
	return out
}
