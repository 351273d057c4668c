package yield

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lox/canecast/internal/models"
)

// Estimator predicts cane yield in tonnes per hectare for a field and a
// fertilizer mix. Implementations must be deterministic and safe for
// concurrent use; they are loaded once and never mutated afterwards.
type Estimator interface {
	Estimate(c models.FieldConditions, npk models.NPK) (float64, error)
}

// Vocabulary is implemented by estimators that know which categorical
// values they were built for.
type Vocabulary interface {
	SoilTypes() []string
	Seasons() []string
}

// MetricsReporter is implemented by estimators that may carry static
// accuracy figures from training.
type MetricsReporter interface {
	Metrics() models.ModelMetrics
}

// Describer names the estimator family for diagnostics.
type Describer interface {
	Kind() string
}

// MetricsOf returns the estimator's static metrics if it reports any.
func MetricsOf(e Estimator) models.ModelMetrics {
	if r, ok := e.(MetricsReporter); ok {
		return r.Metrics()
	}
	return models.NoMetrics()
}

// KindOf returns the estimator family name, or "custom".
func KindOf(e Estimator) string {
	if d, ok := e.(Describer); ok {
		return d.Kind()
	}
	return "custom"
}

// CheckCategories returns an UnknownCategoryError if the conditions use a
// soil type or season outside the vocabulary.
func CheckCategories(v Vocabulary, c models.FieldConditions) error {
	if !slices.Contains(v.SoilTypes(), c.SoilType) {
		return &UnknownCategoryError{Field: "soilType", Value: c.SoilType, Allowed: v.SoilTypes()}
	}
	if !slices.Contains(v.Seasons(), c.Season) {
		return &UnknownCategoryError{Field: "season", Value: c.Season, Allowed: v.Seasons()}
	}
	return nil
}

// UnknownCategoryError reports a categorical value the estimator was not
// built for.
type UnknownCategoryError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown %s %q (expected one of: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// UnavailableError means the estimator could not be loaded or has
// crashed. It is fatal to the process, not only the request.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("yield estimator unavailable (%s): %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
