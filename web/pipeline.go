package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// Pipeline is the request-processing surface: route matching, argument
// binding, invocation through the container, egress processing, and
// response framing.
type Pipeline struct {
	container *container.Container
	store     *config.Store
	logger    *zap.Logger

	routes  []*RouteDescriptor
	binder  *binder
	egress  *egressProcessor
	encoder *Encoder
	errors  *pkgerrors.ErrorHandler

	ignoreTrailingSlash bool
	handler             http.Handler

	managementPages map[string]http.Handler
	extraMiddleware []func(http.Handler) http.Handler
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithManagementEndpoint mounts an additional handler under the /mitsuki
// management namespace (behind the configured IP allowlist).
func WithManagementEndpoint(path string, h http.Handler) Option {
	return func(p *Pipeline) { p.managementPages[path] = h }
}

// WithMiddleware appends application middleware to the global stack.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(p *Pipeline) { p.extraMiddleware = append(p.extraMiddleware, mw) }
}

// NewPipeline builds the routing table from the frozen container and
// assembles the full middleware stack. The pipeline is immutable once
// constructed.
func NewPipeline(c *container.Container, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := c.Store()

	debug, err := store.BoolDefault("mitsuki.debug", false)
	if err != nil {
		return nil, err
	}
	if store.Profile() == "development" || store.Profile() == "dev" {
		debug = true
	}

	maxFileSize, err := store.IntDefault("mitsuki.web.multipart.max-file-size", 10<<20)
	if err != nil {
		return nil, err
	}
	maxTotalSize, err := store.IntDefault("mitsuki.web.multipart.max-total-size", 50<<20)
	if err != nil {
		return nil, err
	}
	ignoreSlash, err := store.BoolDefault("mitsuki.web.ignore-trailing-slash", false)
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	encoder := NewEncoder()
	if err := extendEncoders(c, encoder); err != nil {
		return nil, err
	}

	routes, err := BuildRoutes(c, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		container: c,
		store:     store,
		logger:    logger,
		routes:    routes,
		binder: newBinder(validate, multipartLimits{
			maxFileSize:  int64(maxFileSize),
			maxTotalSize: int64(maxTotalSize),
		}),
		egress:              &egressProcessor{validate: validate, encoder: encoder},
		encoder:             encoder,
		errors:              pkgerrors.NewErrorHandler(logger, debug),
		ignoreTrailingSlash: ignoreSlash,
		managementPages:     make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.assemble(); err != nil {
		return nil, err
	}
	return p, nil
}

// extendEncoders wires the reserved jsonEncoders provider into the
// encoder, if an application registered one.
func extendEncoders(c *container.Container, encoder *Encoder) error {
	if _, ok := c.Descriptor(EncodersProviderName); !ok {
		return nil
	}
	raw, err := c.Lookup(EncodersProviderName)
	if err != nil {
		return err
	}
	mappings, ok := raw.(map[reflect.Type]EncoderFunc)
	if !ok {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"component %q must produce map[reflect.Type]web.EncoderFunc, got %T",
			EncodersProviderName, raw)
	}
	encoder.Extend(mappings)
	return nil
}

// assemble builds the chi router: global middleware, user routes, and the
// management namespace.
func (p *Pipeline) assemble() error {
	mux := chi.NewRouter()

	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.RealIP)
	mux.Use(chimiddleware.Recoverer)
	mux.Use(requestLogger(p.logger))

	if err := p.applyCORS(mux); err != nil {
		return err
	}
	if err := p.applyRateLimit(mux); err != nil {
		return err
	}
	for _, mw := range p.extraMiddleware {
		mux.Use(mw)
	}

	guard, err := newSecurityGuard(p.store, p.logger)
	if err != nil {
		return err
	}

	for _, rd := range p.routes {
		endpoint := p.endpoint(rd)
		if guard != nil && len(rd.SecurityTags) > 0 {
			endpoint = guard.wrap(endpoint)
		}
		mux.MethodFunc(rd.Method, rd.PathPattern, endpoint)
		if p.ignoreTrailingSlash && len(rd.PathPattern) > 1 && !strings.HasSuffix(rd.PathPattern, "/") {
			mux.MethodFunc(rd.Method, rd.PathPattern+"/", endpoint)
		}
	}

	if err := p.mountManagement(mux); err != nil {
		return err
	}

	p.handler = mux
	return nil
}

// mountManagement wires the bundled endpoints behind the optional IP
// allowlist.
func (p *Pipeline) mountManagement(mux chi.Router) error {
	enabled, err := p.store.BoolDefault("mitsuki.management.enabled", true)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	allowlist, err := p.store.StringSliceDefault("mitsuki.management.allowlist", nil)
	if err != nil {
		return err
	}

	mux.Route("/mitsuki", func(r chi.Router) {
		if len(allowlist) > 0 {
			r.Use(ipAllowlist(allowlist, p.logger))
		}
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "up"})
		})
		r.Get("/routes", func(w http.ResponseWriter, req *http.Request) {
			WriteJSON(w, http.StatusOK, p.Routes())
		})
		for path, h := range p.managementPages {
			r.Method(http.MethodGet, path, h)
		}
	})
	return nil
}

// endpoint builds the request lifecycle for one route:
// bind → invoke → shape → write, with failures classified and surfaced at
// this boundary.
func (p *Pipeline) endpoint(rd *RouteDescriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := p.binder.bind(r, rd)
		if err != nil {
			p.errors.Handle(w, r, err)
			return
		}

		result, err := p.invoke(r, rd, args)
		if err != nil {
			p.errors.Handle(w, r, err)
			return
		}

		if entity, ok := result.(*ResponseEntity); ok && entity != nil {
			p.writeEntity(w, r, rd, entity)
			return
		}

		generic, err := p.egress.process(rd, result)
		if err != nil {
			p.errors.Handle(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, generic)
	}
}

// invoke looks up the controller instance and calls the handler with the
// bound arguments. Panics become handler errors; they never reach the
// server loop.
func (p *Pipeline) invoke(r *http.Request, rd *RouteDescriptor, args []reflect.Value) (result interface{}, err error) {
	instance, err := p.container.Lookup(rd.ComponentName)
	if err != nil {
		return nil, err
	}
	method := reflect.ValueOf(instance).MethodByName(rd.HandlerName)
	if !method.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.KindHandler,
			"handler %s.%s is not callable", rd.ComponentName, rd.HandlerName)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = pkgerrors.Newf(pkgerrors.KindHandler,
				"handler %s.%s panicked: %v", rd.ComponentName, rd.HandlerName, rec)
		}
	}()

	callArgs := args
	if rd.wantsContext {
		callArgs = append([]reflect.Value{reflect.ValueOf(r.Context())}, args...)
	}
	outs := method.Call(callArgs)

	switch {
	case rd.returnsValue && rd.returnsError:
		if !outs[1].IsNil() {
			return nil, p.classifyHandlerError(rd, outs[1].Interface().(error))
		}
		return outs[0].Interface(), nil
	case rd.returnsValue:
		return outs[0].Interface(), nil
	case rd.returnsError:
		if !outs[0].IsNil() {
			return nil, p.classifyHandlerError(rd, outs[0].Interface().(error))
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// classifyHandlerError keeps framework kinds intact and wraps everything
// else as an opaque handler error.
func (p *Pipeline) classifyHandlerError(rd *RouteDescriptor, err error) error {
	if pkgerrors.KindOf(err) != "" {
		return err
	}
	return pkgerrors.Newf(pkgerrors.KindHandler,
		"handler %s.%s failed", rd.ComponentName, rd.HandlerName).WithCause(err)
}

// writeEntity frames an explicit response-shaping wrapper. The body still
// passes through egress processing when the route declares a contract.
func (p *Pipeline) writeEntity(w http.ResponseWriter, r *http.Request, rd *RouteDescriptor, entity *ResponseEntity) {
	body := entity.BodyValue
	preprocessed := false

	if rd.EgressType != nil || len(rd.EgressExclusions) > 0 {
		processed, err := p.egress.process(rd, body)
		if err != nil {
			p.errors.Handle(w, r, err)
			return
		}
		body = processed
		preprocessed = true
	}

	header := w.Header()
	explicitType := false
	for k, v := range entity.Headers {
		header.Set(k, v)
		if strings.EqualFold(k, "Content-Type") {
			explicitType = true
		}
	}

	status := entity.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	switch b := body.(type) {
	case nil:
		if !explicitType {
			header.Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
	case []byte:
		if !explicitType {
			header.Set("Content-Type", "application/octet-stream")
		}
		w.WriteHeader(status)
		w.Write(b)
	case string:
		if !explicitType {
			header.Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(status)
		w.Write([]byte(b))
	default:
		generic := body
		if !preprocessed {
			encoded, err := p.encoder.Encode(body)
			if err != nil {
				p.errors.Handle(w, r, pkgerrors.Newf(pkgerrors.KindEgressValidation,
					"response value cannot be serialized").WithCause(err))
				return
			}
			generic = encoded
		}
		if !explicitType {
			header.Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		data, err := json.Marshal(generic)
		if err != nil {
			p.logger.Error("failed to serialize response body", zap.Error(err))
			return
		}
		w.Write(data)
	}
}

// Handler returns the assembled HTTP handler.
func (p *Pipeline) Handler() http.Handler {
	return p.handler
}

// RouteTable returns the materialized route descriptors in match order.
func (p *Pipeline) RouteTable() []*RouteDescriptor {
	out := make([]*RouteDescriptor, len(p.routes))
	copy(out, p.routes)
	return out
}

// applyCORS wires the go-chi/cors middleware from configuration.
func (p *Pipeline) applyCORS(mux chi.Router) error {
	enabled, err := p.store.BoolDefault("mitsuki.web.cors.enabled", false)
	if err != nil || !enabled {
		return err
	}

	origins, err := p.store.StringSliceDefault("mitsuki.web.cors.allowed-origins", []string{"*"})
	if err != nil {
		return err
	}
	methods, err := p.store.StringSliceDefault("mitsuki.web.cors.allowed-methods", nil)
	if err != nil {
		return err
	}
	headers, err := p.store.StringSliceDefault("mitsuki.web.cors.allowed-headers", nil)
	if err != nil {
		return err
	}
	credentials, err := p.store.BoolDefault("mitsuki.web.cors.allow-credentials", false)
	if err != nil {
		return err
	}
	maxAge, err := p.store.IntDefault("mitsuki.web.cors.max-age", 300)
	if err != nil {
		return err
	}

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: credentials,
		MaxAge:           maxAge,
	}))
	return nil
}

// applyRateLimit wires the token-bucket limiter from configuration.
func (p *Pipeline) applyRateLimit(mux chi.Router) error {
	enabled, err := p.store.BoolDefault("mitsuki.web.rate-limit.enabled", false)
	if err != nil || !enabled {
		return err
	}
	rps, err := p.store.FloatDefault("mitsuki.web.rate-limit.rps", 50)
	if err != nil {
		return err
	}
	burst, err := p.store.IntDefault("mitsuki.web.rate-limit.burst", 100)
	if err != nil {
		return err
	}
	mux.Use(rateLimiter(rps, burst, p.logger))
	return nil
}

// WriteJSON frames a value as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, `{"error":"serialization failure"}`)
		return
	}
	w.Write(data)
}
