package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse is the body written for framework-generated error
// responses.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler converts framework errors into HTTP responses.
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler. In debug mode the response
// body carries structured details for server-side kinds; in production it
// stays opaque.
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes err to w using the taxonomy's status mapping.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	fe := AsFrameworkError(err)
	status := fe.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	h.logger.Error("request failed",
		zap.String("kind", string(fe.Kind)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)

	resp := ErrorResponse{Error: fe.Message}
	if status < http.StatusInternalServerError || h.debug {
		if len(fe.Details) > 0 {
			resp.Details = fe.Details
		}
	} else {
		// Server-side failures stay opaque outside debug mode.
		resp.Error = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		h.logger.Error("failed to encode error response", zap.Error(encodeErr))
	}
}
