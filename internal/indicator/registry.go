package indicator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Definition is a family plus the parameters that override its defaults.
type Definition struct {
	Base   string `json:"base"`
	Params Params `json:"params,omitempty"`
}

// Name derives the instance name. See instanceName.
func (d Definition) Name() string {
	return instanceName(d.Base, d.Params)
}

type instance struct {
	def    Definition
	family Family
	merged Params
}

// Registry maps instance names to definitions. Registering a definition whose derived
// name already exists replaces it.
type Registry struct {
	mu        sync.RWMutex
	families  map[string]Family
	instances map[string]instance
}

// NewRegistry registers the families and a default instance (named after the base) of each.
func NewRegistry(families ...Family) *Registry {
	r := &Registry{
		families:  make(map[string]Family, len(families)),
		instances: make(map[string]instance, len(families)),
	}
	for _, f := range families {
		r.families[f.Base()] = f
		r.instances[f.Base()] = instance{def: Definition{Base: f.Base()}, family: f, merged: f.Defaults()}
	}
	return r
}

// Register validates def and stores it under its derived name, which it returns.
func (r *Registry) Register(def Definition) (string, error) {
	inst, err := r.resolve(def)
	if err != nil {
		return "", err
	}
	name := inst.def.Name()

	r.mu.Lock()
	r.instances[name] = inst
	r.mu.Unlock()
	return name, nil
}

// Resolve validates def without registering it.
func (r *Registry) Resolve(def Definition) (string, Params, error) {
	inst, err := r.resolve(def)
	if err != nil {
		return "", nil, err
	}
	return inst.def.Name(), inst.merged, nil
}

func (r *Registry) resolve(def Definition) (instance, error) {
	base := strings.ToLower(strings.TrimSpace(def.Base))
	r.mu.RLock()
	f, ok := r.families[base]
	r.mu.RUnlock()
	if !ok {
		return instance{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, def.Base)
	}
	def.Base = base

	merged, err := def.Params.merge(f.Defaults())
	if err != nil {
		return instance{}, err
	}
	if err := f.Validate(merged); err != nil {
		return instance{}, err
	}
	params := make(Params, len(def.Params))
	copy(params, def.Params)
	def.Params = params
	return instance{def: def, family: f, merged: merged}, nil
}

// Lookup returns the registered definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst.def, ok
}

func (r *Registry) lookup(name string) (instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	if !ok {
		return instance{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
	}
	return inst, nil
}

// Definitions lists every registered instance, ordered by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Definition, len(names))
	for i, name := range names {
		out[i] = r.instances[name].def
	}
	r.mu.RUnlock()
	return out
}

// Families lists the family base names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.families))
	for base := range r.families {
		out = append(out, base)
	}
	sort.Strings(out)
	return out
}
