package container

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// edgeTarget records how one dependency was matched: the name of the
// providing descriptor, or empty for optional-unmatched and value deps.
type edgeTarget struct {
	name  string
	value bool
}

// Resolve executes the one-shot resolution protocol: filter the registry by
// the store's active profile, match every dependency, reject cycles,
// topologically sort, and instantiate singletons in dependency order. The
// returned container is frozen.
func Resolve(ctx context.Context, reg *Registry, store *config.Store, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	profile := store.Profile()

	byName, order, err := reg.active(profile)
	if err != nil {
		return nil, err
	}

	c := &Container{
		byName:    byName,
		order:     order,
		edges:     make(map[string][]edgeTarget),
		instances: make(map[string]interface{}),
		store:     store,
		logger:    logger,
	}

	if err := c.matchDependencies(); err != nil {
		return nil, err
	}

	sorted, err := c.topologicalOrder()
	if err != nil {
		return nil, err
	}
	c.order = sorted

	for _, name := range sorted {
		d := byName[name]
		if d.scope != Singleton {
			continue
		}
		instance, err := c.instantiate(ctx, name)
		if err != nil {
			return nil, err
		}
		c.instances[name] = instance
		c.constructed = append(c.constructed, name)
		logger.Debug("component instantiated",
			zap.String("component", name),
			zap.String("kind", string(d.kind)),
		)
	}

	c.frozen = true
	logger.Info("container resolved",
		zap.String("profile", profile),
		zap.Int("components", len(byName)),
		zap.Int("singletons", len(c.constructed)),
	)
	return c, nil
}

// matchDependencies builds the edge list for every active descriptor.
func (c *Container) matchDependencies() error {
	for _, name := range c.order {
		d := c.byName[name]
		targets := make([]edgeTarget, len(d.deps))
		for i, dep := range d.deps {
			if dep.ValueExpr != "" {
				targets[i] = edgeTarget{value: true}
				continue
			}

			target, err := c.matchOne(d, dep)
			if err != nil {
				return err
			}
			targets[i] = edgeTarget{name: target}
		}
		c.edges[name] = targets
	}
	return nil
}

// matchOne finds the unique active descriptor satisfying dep. An explicit
// qualifier matches by name; otherwise the unique descriptor whose produced
// type is assignable wins.
func (c *Container) matchOne(d *Descriptor, dep Dependency) (string, error) {
	if dep.Qualifier != "" {
		target, ok := c.byName[dep.Qualifier]
		if !ok {
			if dep.Optional {
				return "", nil
			}
			return "", pkgerrors.Newf(pkgerrors.KindMissingDependency,
				"component %q requires %s, but no active descriptor is named %q",
				d.name, dep, dep.Qualifier).
				WithDetail("component", d.name).
				WithDetail("qualifier", dep.Qualifier)
		}
		if !assignable(target.produces, dep.Type) {
			return "", pkgerrors.Newf(pkgerrors.KindMissingDependency,
				"component %q requires %s, but descriptor %q produces %s",
				d.name, dep, dep.Qualifier, target.produces).
				WithDetail("component", d.name).
				WithDetail("qualifier", dep.Qualifier)
		}
		return target.name, nil
	}

	var matches []string
	for _, candidate := range c.order {
		cd := c.byName[candidate]
		if cd.name == d.name {
			continue
		}
		if assignable(cd.produces, dep.Type) {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if dep.Optional {
			return "", nil
		}
		return "", pkgerrors.Newf(pkgerrors.KindMissingDependency,
			"component %q requires %s, but no active descriptor produces it",
			d.name, dep).
			WithDetail("component", d.name).
			WithDetail("type", dep.Type.String())
	default:
		return "", pkgerrors.Newf(pkgerrors.KindAmbiguousDependency,
			"component %q requires %s, matched by multiple descriptors: %s; add a qualifier",
			d.name, dep, strings.Join(matches, ", ")).
			WithDetail("component", d.name).
			WithDetail("candidates", matches)
	}
}

// topologicalOrder sorts active descriptors dependencies-first, rejecting
// cycles with an error naming the offending path.
func (c *Container) topologicalOrder() ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(c.byName))
	var sorted []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			cycleStart := 0
			for i, p := range path {
				if p == name {
					cycleStart = i
					break
				}
			}
			cycle := append(append([]string{}, path[cycleStart:]...), name)
			return pkgerrors.Newf(pkgerrors.KindCircularDependency,
				"circular dependency: %s", strings.Join(cycle, " -> ")).
				WithDetail("cycle", cycle)
		}

		state[name] = visiting
		path = append(path, name)
		for _, target := range c.edges[name] {
			if target.name == "" {
				continue
			}
			if err := visit(target.name); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		sorted = append(sorted, name)
		return nil
	}

	for _, name := range c.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// instantiate calls the descriptor's factory with resolved dependencies.
// Singleton dependencies come from the instance map (guaranteed present by
// topological order); prototype dependencies are constructed fresh.
func (c *Container) instantiate(ctx context.Context, name string) (instance interface{}, err error) {
	d := c.byName[name]

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Newf(pkgerrors.KindComponentInstantiation,
				"factory for %q panicked: %v", name, r).
				WithDetail("component", name)
		}
	}()

	var args []reflect.Value
	if d.wantsContext {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, dep := range d.deps {
		target := c.edges[name][i]
		switch {
		case target.value:
			v, verr := c.valueArgument(d, dep)
			if verr != nil {
				return nil, verr
			}
			args = append(args, v)
		case target.name == "":
			args = append(args, reflect.Zero(dep.Type))
		default:
			td := c.byName[target.name]
			var depInstance interface{}
			if td.scope == Prototype {
				depInstance, err = c.instantiate(ctx, target.name)
				if err != nil {
					return nil, err
				}
			} else {
				depInstance = c.instances[target.name]
			}
			args = append(args, reflect.ValueOf(depInstance))
		}
	}

	outs := d.factory.Call(args)
	if d.returnsError && !outs[1].IsNil() {
		ferr := outs[1].Interface().(error)
		return nil, pkgerrors.Newf(pkgerrors.KindComponentInstantiation,
			"factory for %q failed", name).
			WithCause(ferr).
			WithDetail("component", name)
	}
	return outs[0].Interface(), nil
}

// valueArgument resolves a ${...} dependency through the configuration
// store and coerces it to the declared parameter type.
func (c *Container) valueArgument(d *Descriptor, dep Dependency) (reflect.Value, error) {
	resolved, err := c.store.Substitute(dep.ValueExpr)
	if err != nil {
		return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindConfiguration,
			"cannot resolve value %q for component %q", dep.ValueExpr, d.name).
			WithCause(err).
			WithDetail("component", d.name)
	}

	v, err := convertValue(dep.ValueExpr, resolved, dep.Type)
	if err != nil {
		return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindConfiguration,
			"value %q for component %q cannot be coerced to %s", dep.ValueExpr, d.name, dep.Type).
			WithCause(err).
			WithDetail("component", d.name)
	}
	return v, nil
}

// convertValue coerces the substituted string to the parameter type.
func convertValue(expr, s string, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(t), nil
	case reflect.Bool:
		b, err := config.CoerceBool(expr, s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if t == durationType {
			d, err := config.CoerceDuration(expr, s)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(d), nil
		}
		n, err := config.CoerceInt(expr, s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := config.CoerceInt(expr, s)
		if err != nil {
			return reflect.Value{}, err
		}
		if n < 0 {
			return reflect.Value{}, fmt.Errorf("negative value %d for unsigned parameter", n)
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := config.CoerceFloat(expr, s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			parts, err := config.CoerceStringSlice(expr, s)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(parts), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unsupported value-injection type %s", t)
}
