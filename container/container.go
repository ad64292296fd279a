package container

import (
	"context"
	"io"
	"reflect"

	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// Shutdowner is the shutdown hook a component may advertise. Hooks run in
// reverse instantiation order during container shutdown; errors are logged
// and never propagated.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Container holds resolved component instances. It is write-once: after
// Resolve returns, the instance map is frozen and all lookups are read-only,
// so concurrent readers need no locking.
type Container struct {
	byName      map[string]*Descriptor
	order       []string
	edges       map[string][]edgeTarget
	instances   map[string]interface{}
	constructed []string
	store       *config.Store
	logger      *zap.Logger
	frozen      bool
}

// Lookup returns the instance registered under name. Singletons return the
// cached instance; prototypes are constructed fresh on every call.
func (c *Container) Lookup(name string) (interface{}, error) {
	d, ok := c.byName[name]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindMissingDependency,
			"no component named %q in the container", name).
			WithDetail("component", name)
	}
	if d.scope == Prototype {
		return c.instantiate(context.Background(), name)
	}
	return c.instances[name], nil
}

// LookupType returns the unique instance assignable to t.
func (c *Container) LookupType(t reflect.Type) (interface{}, error) {
	var matches []string
	for _, name := range c.order {
		if assignable(c.byName[name].produces, t) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 1:
		return c.Lookup(matches[0])
	case 0:
		return nil, pkgerrors.Newf(pkgerrors.KindMissingDependency,
			"no component produces %s", t)
	default:
		return nil, pkgerrors.Newf(pkgerrors.KindAmbiguousDependency,
			"multiple components produce %s: %v", t, matches).
			WithDetail("candidates", matches)
	}
}

// LookupAs returns the unique instance assignable to T.
func LookupAs[T any](c *Container) (T, error) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	v, err := c.LookupType(t)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Descriptor returns the active descriptor registered under name.
func (c *Container) Descriptor(name string) (*Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Descriptors returns the active descriptors in topological order.
func (c *Container) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Profile returns the profile the container was resolved for.
func (c *Container) Profile() string {
	return c.store.Profile()
}

// Store returns the configuration store the container was resolved with.
func (c *Container) Store() *config.Store {
	return c.store
}

// Shutdown invokes shutdown hooks in reverse instantiation order. Hook
// failures are logged and recorded but never abort the sequence.
func (c *Container) Shutdown(ctx context.Context) {
	for i := len(c.constructed) - 1; i >= 0; i-- {
		name := c.constructed[i]
		instance := c.instances[name]

		var err error
		switch hook := instance.(type) {
		case Shutdowner:
			err = hook.Shutdown(ctx)
		case io.Closer:
			err = hook.Close()
		default:
			continue
		}

		if err != nil {
			shutdownErr := pkgerrors.Newf(pkgerrors.KindShutdown,
				"shutdown hook for %q failed", name).WithCause(err)
			c.logger.Error("component shutdown failed",
				zap.String("component", name),
				zap.Error(shutdownErr),
			)
			continue
		}
		c.logger.Debug("component shut down", zap.String("component", name))
	}
}

// assignable reports whether a value of type from satisfies a parameter of
// type to.
func assignable(from, to reflect.Type) bool {
	if from == nil || to == nil {
		return false
	}
	if from.AssignableTo(to) {
		return true
	}
	if to.Kind() == reflect.Interface && from.Implements(to) {
		return true
	}
	return false
}
