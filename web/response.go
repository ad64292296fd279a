package web

import (
	"net/http"
)

// ResponseEntity is the explicit response-shaping wrapper a handler may
// return instead of a bare value: status, headers, body.
type ResponseEntity struct {
	StatusCode int
	Headers    map[string]string
	BodyValue  interface{}
}

// Status starts a response with an arbitrary status code.
func Status(code int) *ResponseEntity {
	return &ResponseEntity{StatusCode: code, Headers: make(map[string]string)}
}

// Ok starts a 200 response.
func Ok() *ResponseEntity { return Status(http.StatusOK) }

// Created starts a 201 response.
func Created() *ResponseEntity { return Status(http.StatusCreated) }

// Accepted starts a 202 response.
func Accepted() *ResponseEntity { return Status(http.StatusAccepted) }

// NoContent starts a 204 response.
func NoContent() *ResponseEntity { return Status(http.StatusNoContent) }

// BadRequest starts a 400 response.
func BadRequest() *ResponseEntity { return Status(http.StatusBadRequest) }

// Unauthorized starts a 401 response.
func Unauthorized() *ResponseEntity { return Status(http.StatusUnauthorized) }

// Forbidden starts a 403 response.
func Forbidden() *ResponseEntity { return Status(http.StatusForbidden) }

// NotFound starts a 404 response.
func NotFound() *ResponseEntity { return Status(http.StatusNotFound) }

// Conflict starts a 409 response.
func Conflict() *ResponseEntity { return Status(http.StatusConflict) }

// InternalServerError starts a 500 response.
func InternalServerError() *ResponseEntity { return Status(http.StatusInternalServerError) }

// Body sets the response body.
func (e *ResponseEntity) Body(v interface{}) *ResponseEntity {
	e.BodyValue = v
	return e
}

// Header sets a response header.
func (e *ResponseEntity) Header(key, value string) *ResponseEntity {
	e.Headers[key] = value
	return e
}
