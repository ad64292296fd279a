package web

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// egressProcessor validates handler return values against the declared
// egress type and applies field exclusions on the transport
// representation.
type egressProcessor struct {
	validate *validator.Validate
	encoder  *Encoder
}

// process validates value against the route's egress contract (when one is
// declared), materializes it to the generic transport representation, and
// strips excluded fields. Exclusions run after validation and after
// materialization.
func (p *egressProcessor) process(rd *RouteDescriptor, value interface{}) (interface{}, error) {
	if rd.EgressType != nil && value != nil {
		materialized, err := p.conform(rd.EgressType, value)
		if err != nil {
			return nil, err
		}
		value = materialized
	}

	generic, err := p.encoder.Encode(value)
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.KindEgressValidation,
			"response value cannot be serialized").WithCause(err)
	}

	if len(rd.EgressExclusions) > 0 {
		generic = stripFields(generic, rd.EgressExclusions)
	}
	return generic, nil
}

// conform checks that value is an instance of the egress type, or a
// mapping/sequence compatible with its shape, and returns the materialized
// instance.
func (p *egressProcessor) conform(egress reflect.Type, value interface{}) (interface{}, error) {
	target := egress
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}

	v := reflect.ValueOf(value)
	if v.Type() == egress || v.Type() == target ||
		(v.Kind() == reflect.Ptr && v.Type().Elem() == target) {
		return p.validated(value)
	}

	// A mapping or sequence must re-materialize into the egress type with
	// no unknown fields.
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, pkgerrors.Newf(pkgerrors.KindEgressValidation,
				"response value does not conform to %s", egress).WithCause(err)
		}
		instance := reflect.New(target)
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(instance.Interface()); err != nil {
			return nil, pkgerrors.Newf(pkgerrors.KindEgressValidation,
				"response value does not conform to %s", egress).
				WithCause(err).
				WithDetail("egress_type", egress.String())
		}
		return p.validated(instance.Elem().Interface())
	}

	return nil, pkgerrors.Newf(pkgerrors.KindEgressValidation,
		"response value of type %T does not conform to %s", value, egress).
		WithDetail("egress_type", egress.String())
}

func (p *egressProcessor) validated(value interface{}) (interface{}, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return value, nil
	}
	if err := p.validate.Struct(v.Interface()); err != nil {
		if _, ok := err.(validator.ValidationErrors); ok {
			return nil, pkgerrors.Newf(pkgerrors.KindEgressValidation,
				"response failed validation: %s", validationMessage(err))
		}
		// Non-struct or unsupported values are not a validation failure.
	}
	return value, nil
}

// stripFields walks the generic representation recursively, deleting every
// mapping key that exactly matches an excluded field. Sequence items are
// traversed.
func stripFields(value interface{}, exclusions []string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, field := range exclusions {
			delete(v, field)
		}
		for key, child := range v {
			v[key] = stripFields(child, exclusions)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = stripFields(item, exclusions)
		}
		return v
	default:
		return value
	}
}
