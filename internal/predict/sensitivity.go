package predict

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

// perturbation is a fixed step of 10% of the parameter's nominal span.
type perturbation struct {
	name  string
	step  float64
	apply func(*models.FieldConditions, float64)
}

var perturbations = []perturbation{
	{"temperature", 5, func(c *models.FieldConditions, d float64) { c.Temperature += d }}, // span 0-50 °C
	{"rainfall", 300, func(c *models.FieldConditions, d float64) { c.Rainfall += d }},     // span 0-3000 mm
	{"humidity", 10, func(c *models.FieldConditions, d float64) { c.Humidity += d }},      // span 0-100 %
	{"moisture", 10, func(c *models.FieldConditions, d float64) { c.Moisture += d }},      // span 0-100 %
}

// SensitivityParameters lists the parameters Analyze perturbs.
func SensitivityParameters() []string {
	names := make([]string, len(perturbations))
	for i, p := range perturbations {
		names[i] = p.name
	}
	return names
}

// Analyze perturbs each environmental parameter by its fixed step with the
// fertilizer mix held at best, and reports the signed yield change sorted
// by descending magnitude. Any estimator failure fails the analysis.
func Analyze(ctx context.Context, est yield.Estimator, c models.FieldConditions, best models.NPK, workers int) ([]models.Sensitivity, error) {
	base, err := est.Estimate(c, best)
	if err != nil {
		return nil, fmt.Errorf("sensitivity baseline: %w", err)
	}

	yields, errs, err := evaluate(ctx, workers, len(perturbations), func(i int) (float64, error) {
		shifted := c
		perturbations[i].apply(&shifted, perturbations[i].step)
		return est.Estimate(shifted, best)
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Sensitivity, len(perturbations))
	for i, p := range perturbations {
		if errs[i] != nil {
			return nil, fmt.Errorf("sensitivity %s: %w", p.name, errs[i])
		}
		out[i] = models.Sensitivity{Parameter: p.name, Delta: yields[i] - base}
	}
	SortSensitivities(out)
	return out, nil
}

// SortSensitivities orders by descending absolute delta, then by name.
func SortSensitivities(s []models.Sensitivity) {
	sort.SliceStable(s, func(i, j int) bool {
		ai, aj := math.Abs(s[i].Delta), math.Abs(s[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return s[i].Parameter < s[j].Parameter
	})
}
