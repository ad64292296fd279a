package web

import (
	"net/http"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/container"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// AttachmentKey is the descriptor attachment slot the web layer reads
// controller route specifications from.
const AttachmentKey = "mitsuki.web.controller"

// BindingKind classifies how one handler parameter is produced from the
// incoming request.
type BindingKind string

const (
	BindPath     BindingKind = "path"
	BindQuery    BindingKind = "query"
	BindBody     BindingKind = "body"
	BindRequest  BindingKind = "transport-request"
	BindFile     BindingKind = "multipart-file"
	BindField    BindingKind = "multipart-field"
)

// ParamBinding describes one handler parameter. Target is filled from the
// handler's reflected signature during table construction.
type ParamBinding struct {
	Kind         BindingKind
	Name         string
	Default      string
	HasDefault   bool
	Required     bool
	ContentTypes []string
	MaxFileSize  int64
	Target       reflect.Type
}

// ControllerSpec is the declarative routing surface of one controller
// component: a base path plus its routed methods.
type ControllerSpec struct {
	base   string
	routes []*RouteSpec
}

// Controller starts a controller specification rooted at basePath.
func Controller(basePath string) *ControllerSpec {
	return &ControllerSpec{base: basePath}
}

// Route appends a routed method.
func (c *ControllerSpec) Route(r *RouteSpec) *ControllerSpec {
	c.routes = append(c.routes, r)
	return c
}

// RouteSpec declares one routed handler method.
type RouteSpec struct {
	method      string
	pattern     string
	handlerName string
	params      []ParamBinding
	ingressType reflect.Type
	egressType  reflect.Type
	exclusions  []string
	security    []string
	metadata    map[string]interface{}
}

func newRouteSpec(method, pattern string) *RouteSpec {
	return &RouteSpec{method: method, pattern: pattern, metadata: make(map[string]interface{})}
}

// GET declares a GET route with the given path suffix.
func GET(pattern string) *RouteSpec { return newRouteSpec(http.MethodGet, pattern) }

// POST declares a POST route.
func POST(pattern string) *RouteSpec { return newRouteSpec(http.MethodPost, pattern) }

// PUT declares a PUT route.
func PUT(pattern string) *RouteSpec { return newRouteSpec(http.MethodPut, pattern) }

// PATCH declares a PATCH route.
func PATCH(pattern string) *RouteSpec { return newRouteSpec(http.MethodPatch, pattern) }

// DELETE declares a DELETE route.
func DELETE(pattern string) *RouteSpec { return newRouteSpec(http.MethodDelete, pattern) }

// Handler names the controller method this route invokes.
func (r *RouteSpec) Handler(name string) *RouteSpec {
	r.handlerName = name
	return r
}

// Path binds the next handler parameter to the named path placeholder.
func (r *RouteSpec) Path(name string) *RouteSpec {
	r.params = append(r.params, ParamBinding{Kind: BindPath, Name: name, Required: true})
	return r
}

// Query binds the next handler parameter to a query-string entry.
func (r *RouteSpec) Query(name string, opts ...BindOption) *RouteSpec {
	b := ParamBinding{Kind: BindQuery, Name: name}
	for _, opt := range opts {
		opt(&b)
	}
	r.params = append(r.params, b)
	return r
}

// Body binds the next handler parameter to the parsed request body,
// validated against prototype's type (the Consumes contract).
func (r *RouteSpec) Body(prototype interface{}) *RouteSpec {
	t := reflect.TypeOf(prototype)
	r.ingressType = t
	r.params = append(r.params, ParamBinding{Kind: BindBody, Name: "body", Required: true})
	return r
}

// BodyDocument binds the next handler parameter to the request body as a
// generic document with no ingress contract.
func (r *RouteSpec) BodyDocument() *RouteSpec {
	r.params = append(r.params, ParamBinding{Kind: BindBody, Name: "body", Required: true})
	return r
}

// Request binds the next handler parameter to the raw transport request.
func (r *RouteSpec) Request() *RouteSpec {
	r.params = append(r.params, ParamBinding{Kind: BindRequest, Name: "request"})
	return r
}

// File binds the next handler parameter to a multipart file part.
func (r *RouteSpec) File(name string, opts ...BindOption) *RouteSpec {
	b := ParamBinding{Kind: BindFile, Name: name}
	for _, opt := range opts {
		opt(&b)
	}
	r.params = append(r.params, b)
	return r
}

// Field binds the next handler parameter to a multipart form field.
func (r *RouteSpec) Field(name string, opts ...BindOption) *RouteSpec {
	b := ParamBinding{Kind: BindField, Name: name}
	for _, opt := range opts {
		opt(&b)
	}
	r.params = append(r.params, b)
	return r
}

// Produces declares the egress contract: the returned value must conform
// to prototype's type.
func (r *RouteSpec) Produces(prototype interface{}) *RouteSpec {
	r.egressType = reflect.TypeOf(prototype)
	return r
}

// Exclude strips the named field keys from every nested mapping of the
// response.
func (r *RouteSpec) Exclude(fields ...string) *RouteSpec {
	r.exclusions = append(r.exclusions, fields...)
	return r
}

// Secured attaches security tags. The route view carries them unchanged;
// when the JWT guard is enabled, a route with tags requires a valid bearer
// token.
func (r *RouteSpec) Secured(tags ...string) *RouteSpec {
	r.security = append(r.security, tags...)
	return r
}

// Meta attaches opaque OpenAPI metadata.
func (r *RouteSpec) Meta(key string, value interface{}) *RouteSpec {
	r.metadata[key] = value
	return r
}

// BindOption customizes a parameter binding.
type BindOption func(*ParamBinding)

// Default supplies a value used when the request omits the parameter.
func Default(value string) BindOption {
	return func(b *ParamBinding) {
		b.Default = value
		b.HasDefault = true
	}
}

// Required marks the parameter as mandatory.
func Required() BindOption {
	return func(b *ParamBinding) { b.Required = true }
}

// ContentTypes restricts a multipart file to the given content types.
func ContentTypes(types ...string) BindOption {
	return func(b *ParamBinding) { b.ContentTypes = types }
}

// MaxFileSize caps a multipart file's size in bytes.
func MaxFileSize(n int64) BindOption {
	return func(b *ParamBinding) { b.MaxFileSize = n }
}

// RouteDescriptor is one materialized route: the declarative spec joined
// with the handler method's reflected shape.
type RouteDescriptor struct {
	Method           string
	PathPattern      string
	ComponentName    string
	HandlerName      string
	Params           []ParamBinding
	IngressType      reflect.Type
	EgressType       reflect.Type
	EgressExclusions []string
	SecurityTags     []string
	Metadata         map[string]interface{}

	wantsContext bool
	returnsError bool
	returnsValue bool
}

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

// BuildRoutes iterates active controller descriptors and materializes the
// routing table. Conflicting (method, pattern) pairs and malformed
// placeholder/parameter correspondences fail construction.
func BuildRoutes(c *container.Container, logger *zap.Logger) ([]*RouteDescriptor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var routes []*RouteDescriptor
	seen := make(map[string]string)

	for _, d := range c.Descriptors() {
		if d.ComponentKind() != container.KindController {
			continue
		}
		raw, ok := d.Attachment(AttachmentKey)
		if !ok {
			continue
		}
		spec, ok := raw.(*ControllerSpec)
		if !ok {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"controller %q carries an invalid route specification (%T)", d.Name(), raw)
		}

		for _, rs := range spec.routes {
			rd, err := materializeRoute(d, spec.base, rs)
			if err != nil {
				return nil, err
			}

			key := rd.Method + " " + rd.PathPattern
			if prev, dup := seen[key]; dup {
				return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
					"route %s %s declared by both %q and %q",
					rd.Method, rd.PathPattern, prev, rd.ComponentName).
					WithDetail("method", rd.Method).
					WithDetail("pattern", rd.PathPattern)
			}
			seen[key] = rd.ComponentName
			routes = append(routes, rd)

			logger.Debug("route registered",
				zap.String("method", rd.Method),
				zap.String("pattern", rd.PathPattern),
				zap.String("controller", rd.ComponentName),
				zap.String("handler", rd.HandlerName),
			)
		}
	}

	// Literal segments sort before parameterized ones so specific paths
	// match first.
	sort.SliceStable(routes, func(i, j int) bool {
		return routePriority(routes[i].PathPattern) < routePriority(routes[j].PathPattern)
	})

	return routes, nil
}

// materializeRoute joins one RouteSpec with its controller's reflected
// handler method.
func materializeRoute(d *container.Descriptor, base string, rs *RouteSpec) (*RouteDescriptor, error) {
	pattern := combinePaths(base, rs.pattern)
	controller := d.Name()

	if rs.handlerName == "" {
		return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
			"route %s %s on controller %q has no handler method", rs.method, pattern, controller)
	}

	// Placeholder names must be unique and correspond 1:1 with path
	// bindings.
	placeholders := placeholderPattern.FindAllStringSubmatch(pattern, -1)
	names := make(map[string]bool)
	for _, m := range placeholders {
		if names[m[1]] {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"route %s %s repeats placeholder {%s}", rs.method, pattern, m[1])
		}
		names[m[1]] = true
	}
	pathBindings := make(map[string]bool)
	for _, p := range rs.params {
		if p.Kind != BindPath {
			continue
		}
		if pathBindings[p.Name] {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"route %s %s binds path parameter %q twice", rs.method, pattern, p.Name)
		}
		pathBindings[p.Name] = true
		if !names[p.Name] {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"route %s %s binds path parameter %q with no matching placeholder",
				rs.method, pattern, p.Name)
		}
	}
	for name := range names {
		if !pathBindings[name] {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"route %s %s placeholder {%s} has no parameter binding", rs.method, pattern, name)
		}
	}

	method, ok := d.Produces().MethodByName(rs.handlerName)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
			"handler method %q not found on controller %q (%s)",
			rs.handlerName, controller, d.Produces())
	}

	mt := method.Func.Type()
	// Skip the receiver.
	in := make([]reflect.Type, 0, mt.NumIn()-1)
	for i := 1; i < mt.NumIn(); i++ {
		in = append(in, mt.In(i))
	}

	wantsContext := len(in) > 0 && in[0] == contextType
	if wantsContext {
		in = in[1:]
	}

	if len(in) != len(rs.params) {
		return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
			"handler %s.%s takes %d bindable parameters, route declares %d",
			controller, rs.handlerName, len(in), len(rs.params))
	}

	params := make([]ParamBinding, len(rs.params))
	copy(params, rs.params)
	for i := range params {
		params[i].Target = in[i]
	}

	var returnsValue, returnsError bool
	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) == errorType {
			returnsError = true
		} else {
			returnsValue = true
		}
	case 2:
		if mt.Out(1) != errorType {
			return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
				"handler %s.%s must return (T, error), error, T, or nothing",
				controller, rs.handlerName)
		}
		returnsValue = true
		returnsError = true
	default:
		return nil, pkgerrors.Newf(pkgerrors.KindRouteConflict,
			"handler %s.%s has too many return values", controller, rs.handlerName)
	}

	return &RouteDescriptor{
		Method:           rs.method,
		PathPattern:      pattern,
		ComponentName:    controller,
		HandlerName:      rs.handlerName,
		Params:           params,
		IngressType:      rs.ingressType,
		EgressType:       rs.egressType,
		EgressExclusions: append([]string{}, rs.exclusions...),
		SecurityTags:     append([]string{}, rs.security...),
		Metadata:         rs.metadata,
		wantsContext:     wantsContext,
		returnsError:     returnsError,
		returnsValue:     returnsValue,
	}, nil
}

// combinePaths joins a controller base path with a method suffix.
func combinePaths(base, suffix string) string {
	base = strings.TrimSuffix(base, "/")
	if suffix == "" || suffix == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}

// routePriority orders literal patterns before parameterized ones.
func routePriority(pattern string) int {
	return len(placeholderPattern.FindAllString(pattern, -1))
}
