package container

import (
	"reflect"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// providerDescriptor synthesizes a descriptor for a provider method
// declared on a configuration class. The provider's factory resolves the
// owning configuration instance first, then invokes the method on it, so
// providers participate in the same topological resolution as any other
// component.
func providerDescriptor(owner *Descriptor, spec ProviderSpec, profile string) (*Descriptor, error) {
	if owner.produces == nil {
		return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"configuration class %q declares provider %q but has no factory", owner.name, spec.Method)
	}

	profiles := spec.Profiles
	if len(profiles) == 0 {
		profiles = owner.profiles
	}
	if len(profiles) > 0 {
		active := false
		for _, p := range profiles {
			if p == profile {
				active = true
				break
			}
		}
		if !active {
			return nil, nil
		}
	}

	method, ok := owner.produces.MethodByName(spec.Method)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"provider method %q not found on %s (configuration class %q)",
			spec.Method, owner.produces, owner.name).
			WithDetail("component", owner.name).
			WithDetail("method", spec.Method)
	}

	mt := method.Func.Type()
	wantsCtx := mt.NumIn() == 2 && mt.In(1) == contextType
	if mt.NumIn() > 2 || (mt.NumIn() == 2 && !wantsCtx) {
		return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"provider method %s.%s must take no arguments beyond an optional context.Context",
			owner.name, spec.Method)
	}

	var produces reflect.Type
	var returnsError bool
	switch mt.NumOut() {
	case 1:
		if mt.Out(0) == errorType {
			return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
				"provider method %s.%s returns only an error", owner.name, spec.Method)
		}
		produces = mt.Out(0)
	case 2:
		if mt.Out(1) != errorType {
			return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
				"provider method %s.%s must return (T, error)", owner.name, spec.Method)
		}
		produces = mt.Out(0)
		returnsError = true
	default:
		return nil, pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"provider method %s.%s must return T or (T, error)", owner.name, spec.Method)
	}

	d := NewDescriptor(spec.Name)
	d.kind = KindProvider
	d.scope = spec.Scope
	d.profiles = profiles
	d.produces = produces
	d.returnsError = returnsError
	d.wantsContext = wantsCtx
	d.deps = []Dependency{{Index: 0, Type: owner.produces, Qualifier: owner.name}}

	inTypes := []reflect.Type{}
	if wantsCtx {
		inTypes = append(inTypes, contextType)
	}
	inTypes = append(inTypes, owner.produces)
	outTypes := []reflect.Type{produces}
	if returnsError {
		outTypes = append(outTypes, errorType)
	}

	d.factory = reflect.MakeFunc(reflect.FuncOf(inTypes, outTypes, false),
		func(args []reflect.Value) []reflect.Value {
			if wantsCtx {
				return method.Func.Call([]reflect.Value{args[1], args[0]})
			}
			return method.Func.Call([]reflect.Value{args[0]})
		})

	return d, nil
}
