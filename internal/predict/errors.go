package predict

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lox/canecast/internal/yield"
)

// FieldError describes one offending input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field that was missing, malformed or out of
// range.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Reason
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// FieldNames returns the offending field names in order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

// NoViableCandidateError means the estimator failed at every grid point.
type NoViableCandidateError struct {
	Evaluated int
	Last      error
}

func (e *NoViableCandidateError) Error() string {
	return fmt.Sprintf("yield model failed for all %d fertilizer candidates: %v", e.Evaluated, e.Last)
}

func (e *NoViableCandidateError) Unwrap() error {
	return e.Last
}

// TimeoutError reports a request that exceeded its latency budget.
type TimeoutError struct {
	Stage  Stage
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("prediction timed out after %s during %s", e.Budget, e.Stage)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// Error kinds reported to callers.
const (
	KindValidation           = "validation"
	KindUnknownCategory      = "unknown_category"
	KindNoViableCandidate    = "no_viable_candidate"
	KindTimeout              = "timeout"
	KindEstimatorUnavailable = "estimator_unavailable"
	KindInternal             = "internal"
)

// ErrorBody is the structured error returned across the service boundary.
type ErrorBody struct {
	Error  string       `json:"error"`
	Kind   string       `json:"kind"`
	Fields []FieldError `json:"fields,omitempty"`
}

// Classify maps an error to its kind, HTTP status and user-facing body.
// Input problems and service problems get distinct reason texts.
func Classify(err error) (string, int, ErrorBody) {
	var (
		ve *ValidationError
		uc *yield.UnknownCategoryError
		nv *NoViableCandidateError
		te *TimeoutError
		ue *yield.UnavailableError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation, http.StatusUnprocessableEntity, ErrorBody{
			Error:  "Your input was invalid: " + ve.Error(),
			Kind:   KindValidation,
			Fields: ve.Fields,
		}
	case errors.As(err, &uc):
		return KindUnknownCategory, http.StatusUnprocessableEntity, ErrorBody{
			Error: "Your input was invalid: " + uc.Error(),
			Kind:  KindUnknownCategory,
		}
	case errors.As(err, &te):
		return KindTimeout, http.StatusGatewayTimeout, ErrorBody{
			Error: "The prediction service is overloaded: " + te.Error(),
			Kind:  KindTimeout,
		}
	case errors.As(err, &nv):
		return KindNoViableCandidate, http.StatusInternalServerError, ErrorBody{
			Error: "The prediction service is broken: " + nv.Error(),
			Kind:  KindNoViableCandidate,
		}
	case errors.As(err, &ue):
		return KindEstimatorUnavailable, http.StatusServiceUnavailable, ErrorBody{
			Error: "The prediction service is unavailable: " + ue.Error(),
			Kind:  KindEstimatorUnavailable,
		}
	}
	return KindInternal, http.StatusInternalServerError, ErrorBody{
		Error: "The prediction service failed: " + err.Error(),
		Kind:  KindInternal,
	}
}
