package container

import (
	"context"
	"fmt"
	"reflect"
)

// Kind classifies a managed component.
type Kind string

const (
	KindService       Kind = "service"
	KindRepository    Kind = "repository"
	KindController    Kind = "controller"
	KindConfiguration Kind = "configuration"
	KindProvider      Kind = "provider"
	KindGeneric       Kind = "generic"
)

// Scope controls instance lifetime. Singletons are constructed once per
// container; prototypes are constructed at every injection point and every
// lookup.
type Scope string

const (
	Singleton Scope = "singleton"
	Prototype Scope = "prototype"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Dependency describes one constructor parameter of a component. Matching
// is positional; Qualifier pins the dependency to a named descriptor and
// ValueExpr redirects resolution to the configuration store.
type Dependency struct {
	Index     int
	Type      reflect.Type
	Qualifier string
	ValueExpr string
	Optional  bool
}

func (d Dependency) String() string {
	if d.ValueExpr != "" {
		return fmt.Sprintf("arg %d (%s)", d.Index, d.ValueExpr)
	}
	if d.Qualifier != "" {
		return fmt.Sprintf("arg %d (%s, qualifier %q)", d.Index, d.Type, d.Qualifier)
	}
	return fmt.Sprintf("arg %d (%s)", d.Index, d.Type)
}

// ProviderSpec declares a factory method on a configuration class. The
// method becomes its own descriptor whose factory resolves the owning
// configuration instance and invokes the method.
type ProviderSpec struct {
	Method   string
	Name     string
	Scope    Scope
	Profiles []string
}

// Schedule attaches a trigger to a component method; the scheduler
// enumerates these after the container freezes. The trigger value is opaque
// to the container.
type Schedule struct {
	Method  string
	Trigger interface{}
}

// Descriptor is the declarative metadata for a single managed component.
// Descriptors are built fluently at registration time; no instance is
// constructed until resolution.
type Descriptor struct {
	name     string
	kind     Kind
	scope    Scope
	profiles []string

	factory      reflect.Value
	produces     reflect.Type
	deps         []Dependency
	wantsContext bool
	returnsError bool

	providers   []ProviderSpec
	schedules   []Schedule
	attachments map[string]interface{}

	buildErr error
}

// NewDescriptor starts a descriptor with the given unique name. The
// default kind is generic and the default scope is singleton.
func NewDescriptor(name string) *Descriptor {
	return &Descriptor{
		name:        name,
		kind:        KindGeneric,
		scope:       Singleton,
		attachments: make(map[string]interface{}),
	}
}

// Kind sets the component kind.
func (d *Descriptor) Kind(kind Kind) *Descriptor {
	d.kind = kind
	return d
}

// Scope sets the component scope.
func (d *Descriptor) Scope(scope Scope) *Descriptor {
	d.scope = scope
	return d
}

// Profiles restricts the descriptor to the named profiles. With no
// profiles the descriptor is active everywhere.
func (d *Descriptor) Profiles(profiles ...string) *Descriptor {
	d.profiles = append(d.profiles, profiles...)
	return d
}

// Factory sets the constructor. It must be a function; an optional leading
// context.Context and an optional trailing error return are recognized and
// excluded from dependency matching. Remaining parameters become the
// descriptor's ordered dependency list.
func (d *Descriptor) Factory(fn interface{}) *Descriptor {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		d.buildErr = fmt.Errorf("factory for %q is not a function", d.name)
		return d
	}
	t := v.Type()

	switch t.NumOut() {
	case 1:
		if t.Out(0) == errorType {
			d.buildErr = fmt.Errorf("factory for %q returns only an error", d.name)
			return d
		}
		d.produces = t.Out(0)
	case 2:
		if t.Out(1) != errorType {
			d.buildErr = fmt.Errorf("factory for %q must return (T, error)", d.name)
			return d
		}
		d.produces = t.Out(0)
		d.returnsError = true
	default:
		d.buildErr = fmt.Errorf("factory for %q must return T or (T, error)", d.name)
		return d
	}

	start := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		d.wantsContext = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		d.deps = append(d.deps, Dependency{Index: i - start, Type: t.In(i)})
	}
	d.factory = v
	return d
}

// Instance registers an already-constructed value as a singleton with no
// dependencies.
func (d *Descriptor) Instance(value interface{}) *Descriptor {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		d.buildErr = fmt.Errorf("instance for %q is nil", d.name)
		return d
	}
	d.produces = v.Type()
	d.factory = reflect.MakeFunc(
		reflect.FuncOf(nil, []reflect.Type{v.Type()}, false),
		func([]reflect.Value) []reflect.Value { return []reflect.Value{v} },
	)
	return d
}

// Qualifier pins dependency index i to the descriptor with the given name.
func (d *Descriptor) Qualifier(i int, name string) *Descriptor {
	if !d.checkDep(i, "Qualifier") {
		return d
	}
	d.deps[i].Qualifier = name
	return d
}

// Value redirects dependency index i to the configuration store. The
// expression uses ${key} / ${key:default} placeholder syntax and is
// resolved when the component is instantiated.
func (d *Descriptor) Value(i int, expr string) *Descriptor {
	if !d.checkDep(i, "Value") {
		return d
	}
	d.deps[i].ValueExpr = expr
	return d
}

// Optional marks dependency index i as optional: when no descriptor
// matches, the zero value is injected instead of failing resolution.
func (d *Descriptor) Optional(i int) *Descriptor {
	if !d.checkDep(i, "Optional") {
		return d
	}
	d.deps[i].Optional = true
	return d
}

func (d *Descriptor) checkDep(i int, op string) bool {
	if d.buildErr != nil {
		return false
	}
	if i < 0 || i >= len(d.deps) {
		d.buildErr = fmt.Errorf("%s(%d) on %q: factory has %d dependencies", op, i, d.name, len(d.deps))
		return false
	}
	return true
}

// Provides declares a provider method on a configuration class. The
// provider's descriptor name defaults to the method name.
func (d *Descriptor) Provides(method string, opts ...ProviderOption) *Descriptor {
	spec := ProviderSpec{Method: method, Name: method, Scope: Singleton}
	for _, opt := range opts {
		opt(&spec)
	}
	d.providers = append(d.providers, spec)
	return d
}

// ProviderOption customizes a provider declaration.
type ProviderOption func(*ProviderSpec)

// ProviderName overrides the provider descriptor's name.
func ProviderName(name string) ProviderOption {
	return func(s *ProviderSpec) { s.Name = name }
}

// ProviderScope sets the provider descriptor's scope.
func ProviderScope(scope Scope) ProviderOption {
	return func(s *ProviderSpec) { s.Scope = scope }
}

// ProviderProfiles restricts the provider to the named profiles.
func ProviderProfiles(profiles ...string) ProviderOption {
	return func(s *ProviderSpec) { s.Profiles = profiles }
}

// ScheduleMethod attaches a periodic trigger to the named method. The
// scheduler validates and runs it after the container freezes.
func (d *Descriptor) ScheduleMethod(method string, trigger interface{}) *Descriptor {
	d.schedules = append(d.schedules, Schedule{Method: method, Trigger: trigger})
	return d
}

// Attach stores opaque metadata on the descriptor, keyed by consumer. The
// web layer uses this to carry controller route specifications.
func (d *Descriptor) Attach(key string, value interface{}) *Descriptor {
	d.attachments[key] = value
	return d
}

// Name returns the descriptor's unique name.
func (d *Descriptor) Name() string { return d.name }

// ComponentKind returns the descriptor's kind.
func (d *Descriptor) ComponentKind() Kind { return d.kind }

// ComponentScope returns the descriptor's scope.
func (d *Descriptor) ComponentScope() Scope { return d.scope }

// ProfileNames returns the profiles the descriptor is restricted to.
func (d *Descriptor) ProfileNames() []string { return d.profiles }

// Dependencies returns the ordered dependency list.
func (d *Descriptor) Dependencies() []Dependency { return d.deps }

// Produces returns the type the factory constructs.
func (d *Descriptor) Produces() reflect.Type { return d.produces }

// Providers returns the declared provider methods.
func (d *Descriptor) Providers() []ProviderSpec { return d.providers }

// Schedules returns the scheduled-method declarations.
func (d *Descriptor) Schedules() []Schedule { return d.schedules }

// Attachment returns the metadata stored under key.
func (d *Descriptor) Attachment(key string) (interface{}, bool) {
	v, ok := d.attachments[key]
	return v, ok
}

// activeFor reports whether the descriptor participates in the given
// profile. An empty profile list means active everywhere.
func (d *Descriptor) activeFor(profile string) bool {
	if len(d.profiles) == 0 {
		return true
	}
	for _, p := range d.profiles {
		if p == profile {
			return true
		}
	}
	return false
}
