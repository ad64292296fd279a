package runtime

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
	"github.com/DavidLandup0/mitsuki/pkg/observability"
	"github.com/DavidLandup0/mitsuki/scheduler"
	"github.com/DavidLandup0/mitsuki/web"
)

// Application orchestrates the runtime: configuration loading, container
// resolution, route-table construction, scheduler startup, and the HTTP
// server, with shutdown in reverse order.
type Application struct {
	registry  *container.Registry
	configDir string
	envPrefix string

	profile    string
	profileSet bool
	overrides  map[string]interface{}
	address    string
	logger     *zap.Logger
	middleware []func(http.Handler) http.Handler

	store     *config.Store
	container *container.Container
	pipeline  *web.Pipeline
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
	server    *http.Server
}

// Option customizes application construction.
type Option func(*Application)

// WithConfigDir sets the directory application.yml is read from.
func WithConfigDir(dir string) Option {
	return func(a *Application) { a.configDir = dir }
}

// WithEnvPrefix overrides the environment-variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(a *Application) { a.envPrefix = prefix }
}

// WithProfile pins the active profile instead of reading it from the
// environment.
func WithProfile(profile string) Option {
	return func(a *Application) {
		a.profile = profile
		a.profileSet = true
	}
}

// WithConfigValue sets a programmatic configuration value, the
// highest-precedence layer.
func WithConfigValue(key string, value interface{}) Option {
	return func(a *Application) { a.overrides[key] = value }
}

// WithAddress overrides the listen address from configuration.
func WithAddress(addr string) Option {
	return func(a *Application) { a.address = addr }
}

// WithLogger supplies a logger instead of the profile-derived default.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Application) { a.logger = logger }
}

// WithMiddleware appends middleware to the pipeline's global stack.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(a *Application) { a.middleware = append(a.middleware, mw) }
}

// New creates an application over the given component registry.
func New(registry *container.Registry, opts ...Option) *Application {
	a := &Application{
		registry:  registry,
		configDir: ".",
		envPrefix: config.DefaultEnvPrefix,
		overrides: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bootstrap executes the startup sequence up to (but not including) the
// transport listen: configuration, container resolution, scheduler
// discovery, and route-table construction. Startup errors are fatal.
func (a *Application) Bootstrap(ctx context.Context) error {
	loader := config.NewLoader(a.configDir).EnvPrefix(a.envPrefix)
	if a.profileSet {
		loader.Profile(a.profile)
	}
	for k, v := range a.overrides {
		loader.Set(k, v)
	}

	store, err := loader.Load()
	if err != nil {
		return err
	}
	a.store = store

	if a.logger == nil {
		if store.Profile() == "production" || store.Profile() == "prod" {
			a.logger, err = zap.NewProduction()
		} else {
			a.logger, err = zap.NewDevelopment()
		}
		if err != nil {
			return err
		}
	}

	a.metrics = observability.NewMetrics()

	resolveStart := time.Now()
	c, err := container.Resolve(ctx, a.registry, store, a.logger)
	if err != nil {
		a.logger.Error("container resolution failed", zap.Error(err))
		return err
	}
	a.container = c
	a.metrics.RecordResolveDuration(time.Since(resolveStart))

	sched, err := scheduler.New(store, a.logger)
	if err != nil {
		return err
	}
	if err := sched.Discover(c); err != nil {
		a.logger.Error("scheduler discovery failed", zap.Error(err))
		return err
	}
	sched.Observe(a.metrics)
	a.scheduler = sched

	pipelineOpts := []web.Option{
		web.WithMiddleware(a.metrics.Middleware()),
		web.WithManagementEndpoint("/metrics", a.metrics.Handler()),
		web.WithManagementEndpoint("/scheduler", a.schedulerEndpoint()),
	}
	for _, mw := range a.middleware {
		pipelineOpts = append(pipelineOpts, web.WithMiddleware(mw))
	}

	pipeline, err := web.NewPipeline(c, a.logger, pipelineOpts...)
	if err != nil {
		a.logger.Error("route table construction failed", zap.Error(err))
		return err
	}
	a.pipeline = pipeline

	return nil
}

// schedulerEndpoint serves the read-only scheduler statistics snapshot.
func (a *Application) schedulerEndpoint() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.WriteJSON(w, http.StatusOK, a.scheduler.Snapshot())
	})
}

// Run bootstraps the application, starts the scheduler and the HTTP
// server, and blocks until the context is cancelled or a termination
// signal arrives. Shutdown runs in reverse startup order: server drain,
// scheduler grace, container shutdown hooks.
func (a *Application) Run(ctx context.Context) error {
	if a.container == nil {
		if err := a.Bootstrap(ctx); err != nil {
			return err
		}
	}

	address := a.address
	if address == "" {
		address = a.store.StringDefault("mitsuki.server.address", ":8080")
	}
	readTimeout, err := a.store.DurationDefault("mitsuki.server.read-timeout", 15*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := a.store.DurationDefault("mitsuki.server.write-timeout", 15*time.Second)
	if err != nil {
		return err
	}
	idleTimeout, err := a.store.DurationDefault("mitsuki.server.idle-timeout", 60*time.Second)
	if err != nil {
		return err
	}
	shutdownGrace, err := a.store.DurationDefault("mitsuki.server.shutdown-grace", 10*time.Second)
	if err != nil {
		return err
	}

	a.scheduler.Start()

	a.server = &http.Server{
		Addr:         address,
		Handler:      a.pipeline.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("address", address))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		a.logger.Error("server failed", zap.Error(err))
		a.shutdown(shutdownGrace)
		return err
	case <-signalCtx.Done():
		a.logger.Info("shutdown requested")
		a.shutdown(shutdownGrace)
		return nil
	}
}

// shutdown drains the server, stops the scheduler within its grace period,
// and runs container shutdown hooks, in that order. Failures are logged
// and never abort the sequence.
func (a *Application) shutdown(grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server drain failed", zap.Error(err))
		}
	}
	a.scheduler.Stop(ctx)
	a.container.Shutdown(ctx)
	a.logger.Info("application stopped")
}

// Store returns the frozen configuration store. Valid after Bootstrap.
func (a *Application) Store() *config.Store { return a.store }

// Container returns the frozen container. Valid after Bootstrap.
func (a *Application) Container() *container.Container { return a.container }

// Pipeline returns the request pipeline. Valid after Bootstrap.
func (a *Application) Pipeline() *web.Pipeline { return a.pipeline }

// Scheduler returns the scheduler. Valid after Bootstrap.
func (a *Application) Scheduler() *scheduler.Scheduler { return a.scheduler }
