package monitor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/growctl/config"
	"github.com/c360/growctl/errors"
)

// Factory builds a monitor from its configuration entry.
type Factory func(cfg config.MonitorConfig, deps Dependencies) (Monitor, error)

// Registration describes one monitor type.
type Registration struct {
	Type        string
	Description string
	Factory     Factory
}

// Registry maps monitor type strings to factories. Adding a type never
// touches the existing ones.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]Registration)}
}

// Register adds a monitor type.
func (r *Registry) Register(reg Registration) error {
	if reg.Type == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty monitor type", errors.ErrInvalidConfig),
			"Registry", "Register", "validate registration")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: monitor type %q has no factory", errors.ErrInvalidConfig, reg.Type),
			"Registry", "Register", "validate registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[reg.Type]; exists {
		return errors.WrapInvalid(fmt.Errorf("monitor type %q already registered", reg.Type),
			"Registry", "Register", "check duplicate")
	}
	r.registrations[reg.Type] = reg
	return nil
}

// Create builds the monitor for cfg.Type. An unregistered type yields an
// *errors.UnsupportedTypeError.
func (r *Registry) Create(cfg config.MonitorConfig, deps Dependencies) (Monitor, error) {
	r.mu.RLock()
	reg, ok := r.registrations[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, &errors.UnsupportedTypeError{Type: cfg.Type}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Registry", "Create", fmt.Sprintf("validate %q", cfg.Name))
	}

	m, err := reg.Factory(cfg, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", fmt.Sprintf("build %s monitor %q", cfg.Type, cfg.Name))
	}
	return m, nil
}

// Lookup returns the registration for monitorType.
func (r *Registry) Lookup(monitorType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[monitorType]
	return reg, ok
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.registrations))
	for t := range r.registrations {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
