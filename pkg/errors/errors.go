package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes a framework error. Every failure raised by the core
// carries exactly one kind; the HTTP surface maps kinds to status codes.
type Kind string

const (
	// KindConfiguration indicates a missing or malformed configuration
	// source, an unresolvable placeholder, or a failed type coercion.
	KindConfiguration Kind = "CONFIGURATION_ERROR"

	// KindComponentRegistration indicates an invalid registration: a
	// duplicate descriptor name within the active profile, or a malformed
	// descriptor, provider, scheduled task or encoder provider.
	KindComponentRegistration Kind = "COMPONENT_REGISTRATION_ERROR"

	// KindMissingDependency indicates a dependency with no matching
	// active descriptor.
	KindMissingDependency Kind = "MISSING_DEPENDENCY"

	// KindAmbiguousDependency indicates a dependency matched by more than
	// one active descriptor with no qualifier to disambiguate.
	KindAmbiguousDependency Kind = "AMBIGUOUS_DEPENDENCY"

	// KindCircularDependency indicates a cycle in the dependency graph.
	KindCircularDependency Kind = "CIRCULAR_DEPENDENCY"

	// KindComponentInstantiation indicates a component factory failed.
	KindComponentInstantiation Kind = "COMPONENT_INSTANTIATION_ERROR"

	// KindRouteConflict indicates two routes resolved to the same
	// (method, pattern) pair, or a route declaration that cannot be
	// materialized (placeholder/binding mismatch, unknown handler method).
	KindRouteConflict Kind = "ROUTE_CONFLICT"

	// KindRequestBinding indicates a handler argument could not be
	// produced from the incoming request.
	KindRequestBinding Kind = "REQUEST_BINDING_ERROR"

	// KindIngressValidation indicates the request body failed validation
	// against the declared ingress type.
	KindIngressValidation Kind = "INGRESS_VALIDATION_ERROR"

	// KindEgressValidation indicates the handler return value failed
	// validation against the declared egress type.
	KindEgressValidation Kind = "EGRESS_VALIDATION_ERROR"

	// KindHandler indicates the handler itself raised an error.
	KindHandler Kind = "HANDLER_ERROR"

	// KindSchedulerTask indicates a scheduled task execution failed.
	KindSchedulerTask Kind = "SCHEDULER_TASK_ERROR"

	// KindShutdown indicates a component shutdown hook failed.
	KindShutdown Kind = "SHUTDOWN_ERROR"
)

// FrameworkError is the error type raised by every core subsystem.
type FrameworkError struct {
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"status_code"`
}

// New creates a framework error of the given kind.
func New(kind Kind, message string) *FrameworkError {
	return &FrameworkError{
		Kind:       kind,
		Message:    message,
		Details:    make(map[string]interface{}),
		StatusCode: kindToStatusCode(kind),
	}
}

// Newf creates a framework error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *FrameworkError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *FrameworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// WithCause attaches an underlying cause.
func (e *FrameworkError) WithCause(cause error) *FrameworkError {
	e.Cause = cause
	return e
}

// WithDetail attaches a single structured detail.
func (e *FrameworkError) WithDetail(key string, value interface{}) *FrameworkError {
	e.Details[key] = value
	return e
}

// WithDetails attaches multiple structured details.
func (e *FrameworkError) WithDetails(details map[string]interface{}) *FrameworkError {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithStatusCode overrides the HTTP status code derived from the kind.
func (e *FrameworkError) WithStatusCode(code int) *FrameworkError {
	e.StatusCode = code
	return e
}

// Is matches framework errors by kind.
func (e *FrameworkError) Is(target error) bool {
	t, ok := target.(*FrameworkError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Unwrap returns the underlying cause.
func (e *FrameworkError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of err if it is a framework error, or an empty
// kind otherwise.
func KindOf(err error) Kind {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a framework error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsFrameworkError extracts a framework error from err, or wraps err as a
// handler error when it is something else.
func AsFrameworkError(err error) *FrameworkError {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe
	}
	return New(KindHandler, "internal error").WithCause(err)
}

// kindToStatusCode maps error kinds to HTTP status codes.
func kindToStatusCode(kind Kind) int {
	switch kind {
	case KindRequestBinding, KindIngressValidation:
		return http.StatusBadRequest
	case KindEgressValidation, KindHandler:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// startupKinds are the kinds that abort application startup.
var startupKinds = map[Kind]bool{
	KindConfiguration:          true,
	KindComponentRegistration:  true,
	KindMissingDependency:      true,
	KindAmbiguousDependency:    true,
	KindCircularDependency:     true,
	KindComponentInstantiation: true,
	KindRouteConflict:          true,
}

// IsStartupError reports whether err belongs to the startup-fatal portion
// of the taxonomy.
func IsStartupError(err error) bool {
	return startupKinds[KindOf(err)]
}
