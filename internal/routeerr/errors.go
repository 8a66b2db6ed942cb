// Package routeerr defines the error kinds returned by the routing engine
// and the HTTP status each kind maps to.
package routeerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports every configuration violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "invalid configuration"
	case 1:
		return "invalid configuration: " + e.Violations[0]
	default:
		return fmt.Sprintf("invalid configuration: %d violations", len(e.Violations))
	}
}

// NotFoundError reports an unknown provider, model or route.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Name)
}

// NoHealthyProviderError means no candidate for Model passed the health
// filter. Last holds the dispatch failure that preceded it, if any.
type NoHealthyProviderError struct {
	Model      string
	Candidates []string
	Last       error
}

func (e *NoHealthyProviderError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no provider configured for model %s", e.Model)
	}
	msg := fmt.Sprintf("no healthy provider for model %s (candidates: %s)", e.Model, strings.Join(e.Candidates, ", "))
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *NoHealthyProviderError) Unwrap() error { return e.Last }

// FallbackExhaustedError means every allowed dispatch attempt failed.
type FallbackExhaustedError struct {
	Model    string
	Attempts int
	Last     error
}

func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempt(s) for model %s failed: %v", e.Attempts, e.Model, e.Last)
}

func (e *FallbackExhaustedError) Unwrap() error { return e.Last }

// PersistenceError wraps a store read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ParseError reports malformed JSON in a hint or body field.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatusCode maps an error to the HTTP status the admin and proxy surfaces use.
func StatusCode(err error) int {
	var (
		validation *ValidationError
		parse      *ParseError
		notFound   *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &parse):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Details returns the per-item detail list carried by err, if any.
func Details(err error) []string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Violations
	}
	return nil
}
