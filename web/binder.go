package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	requestType = reflect.TypeOf((*http.Request)(nil))
	uuidType    = reflect.TypeOf(uuid.UUID{})
)

// binder produces handler arguments from incoming requests, in handler
// parameter declaration order.
type binder struct {
	validate  *validator.Validate
	multipart multipartLimits
}

func newBinder(validate *validator.Validate, limits multipartLimits) *binder {
	return &binder{validate: validate, multipart: limits}
}

// bind builds the argument list for one request against one route.
func (b *binder) bind(r *http.Request, rd *RouteDescriptor) ([]reflect.Value, error) {
	args := make([]reflect.Value, 0, len(rd.Params))
	var form *multipartForm

	for _, p := range rd.Params {
		switch p.Kind {
		case BindPath:
			raw := chi.URLParam(r, p.Name)
			if raw == "" {
				return nil, bindingError(p.Name, "path parameter is missing")
			}
			v, err := coerceParam(raw, p.Target)
			if err != nil {
				return nil, bindingError(p.Name, err.Error())
			}
			args = append(args, v)

		case BindQuery:
			values := r.URL.Query()
			raw := values.Get(p.Name)
			if raw == "" && !values.Has(p.Name) {
				if p.HasDefault {
					raw = p.Default
				} else if p.Required {
					return nil, bindingError(p.Name, "required query parameter is missing")
				} else {
					args = append(args, reflect.Zero(p.Target))
					continue
				}
			}
			v, err := coerceParam(raw, p.Target)
			if err != nil {
				return nil, bindingError(p.Name, err.Error())
			}
			args = append(args, v)

		case BindBody:
			v, err := b.bindBody(r, rd, p)
			if err != nil {
				return nil, err
			}
			args = append(args, v)

		case BindRequest:
			if p.Target != requestType {
				return nil, bindingError(p.Name,
					fmt.Sprintf("transport-request parameters must be *http.Request, not %s", p.Target))
			}
			args = append(args, reflect.ValueOf(r))

		case BindFile, BindField:
			if form == nil {
				var err error
				form, err = parseMultipart(r, b.multipart)
				if err != nil {
					return nil, err
				}
			}
			v, err := form.bind(p)
			if err != nil {
				return nil, err
			}
			args = append(args, v)

		default:
			return nil, bindingError(p.Name, fmt.Sprintf("unknown binding kind %q", p.Kind))
		}
	}

	return args, nil
}

// bindBody parses the request body. With an ingress type, the parsed
// document is materialized into that type and validated; otherwise a
// generic document representation is passed through.
func (b *binder) bindBody(r *http.Request, rd *RouteDescriptor, p ParamBinding) (reflect.Value, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return reflect.Value{}, bindingError(p.Name, "cannot read request body")
	}
	if len(data) == 0 {
		return reflect.Value{}, bindingError(p.Name, "request body is empty")
	}

	if rd.IngressType == nil {
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return reflect.Value{}, bindingError(p.Name, "request body is not valid JSON")
		}
		v := reflect.ValueOf(doc)
		if !v.IsValid() || !v.Type().AssignableTo(p.Target) {
			if p.Target.Kind() == reflect.Interface {
				out := reflect.New(p.Target).Elem()
				if v.IsValid() {
					out.Set(v)
				}
				return out, nil
			}
			return reflect.Value{}, bindingError(p.Name,
				fmt.Sprintf("generic body cannot be passed as %s", p.Target))
		}
		return v, nil
	}

	target := rd.IngressType
	isPtr := target.Kind() == reflect.Ptr
	if isPtr {
		target = target.Elem()
	}

	instance := reflect.New(target)
	if err := json.Unmarshal(data, instance.Interface()); err != nil {
		return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindIngressValidation,
			"request body does not match %s", rd.IngressType).
			WithCause(err).
			WithDetail("parameter", p.Name)
	}

	if target.Kind() == reflect.Struct {
		if err := b.validate.Struct(instance.Interface()); err != nil {
			return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindIngressValidation,
				"request body failed validation: %s", validationMessage(err)).
				WithDetail("parameter", p.Name)
		}
	}

	// Hand the handler whichever of T / *T it declared.
	if p.Target.Kind() == reflect.Ptr {
		return instance, nil
	}
	return instance.Elem(), nil
}

// coerceParam converts a raw string extracted from the request to the
// handler's declared parameter type.
func coerceParam(raw string, t reflect.Type) (reflect.Value, error) {
	if t == uuidType {
		id, err := uuid.Parse(raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%q is not a valid UUID", raw)
		}
		return reflect.ValueOf(id), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%q is not a valid integer", raw)
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%q is not a valid unsigned integer", raw)
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%q is not a valid number", raw)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Bool:
		switch strings.ToLower(raw) {
		case "true", "yes", "on", "1":
			return reflect.ValueOf(true), nil
		case "false", "no", "off", "0":
			return reflect.ValueOf(false), nil
		}
		return reflect.Value{}, fmt.Errorf("%q is not a valid boolean", raw)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			if raw == "" {
				return reflect.ValueOf([]string{}), nil
			}
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return reflect.ValueOf(parts), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unsupported parameter type %s", t)
}

func bindingError(param, reason string) error {
	return pkgerrors.Newf(pkgerrors.KindRequestBinding,
		"cannot bind parameter %q: %s", param, reason).
		WithDetail("parameter", param)
}

// validationMessage flattens validator errors into a readable message.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email", field))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(parts, "; ")
}
