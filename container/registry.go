package container

import (
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// Registry is the passive catalogue of component descriptors. Registration
// is pure: descriptors may be added in any order and nothing is constructed
// until Resolve runs.
type Registry struct {
	descriptors []*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a descriptor.
func (r *Registry) Register(d *Descriptor) *Registry {
	r.descriptors = append(r.descriptors, d)
	return r
}

// Descriptors returns all registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// active filters to descriptors admitted by profile, expands provider
// methods into their own descriptors, and enforces name uniqueness.
func (r *Registry) active(profile string) (map[string]*Descriptor, []string, error) {
	byName := make(map[string]*Descriptor)
	var order []string

	add := func(d *Descriptor) error {
		if d.buildErr != nil {
			return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
				"descriptor %q is invalid: %v", d.name, d.buildErr).
				WithDetail("component", d.name)
		}
		if !d.factory.IsValid() {
			return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
				"descriptor %q has no factory", d.name).
				WithDetail("component", d.name)
		}
		if existing, dup := byName[d.name]; dup {
			return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
				"duplicate component name %q (kinds %s and %s) within the active profile",
				d.name, existing.kind, d.kind).
				WithDetail("component", d.name)
		}
		byName[d.name] = d
		order = append(order, d.name)
		return nil
	}

	for _, d := range r.descriptors {
		if !d.activeFor(profile) {
			continue
		}
		if err := add(d); err != nil {
			return nil, nil, err
		}
		for _, spec := range d.providers {
			pd, err := providerDescriptor(d, spec, profile)
			if err != nil {
				return nil, nil, err
			}
			if pd == nil {
				continue
			}
			if err := add(pd); err != nil {
				return nil, nil, err
			}
		}
	}

	return byName, order, nil
}
