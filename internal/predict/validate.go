package predict

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

type bound int

const (
	positive    bound = iota // > 0
	nonNegative              // >= 0
	percentage               // [0, 100]
)

var numericFields = []struct {
	name  string
	bound bound
	set   func(*models.FieldConditions, float64)
}{
	{"area", positive, func(c *models.FieldConditions, v float64) { c.Area = v }},
	{"temperature", positive, func(c *models.FieldConditions, v float64) { c.Temperature = v }},
	{"rainfall", nonNegative, func(c *models.FieldConditions, v float64) { c.Rainfall = v }},
	{"humidity", percentage, func(c *models.FieldConditions, v float64) { c.Humidity = v }},
	{"moisture", percentage, func(c *models.FieldConditions, v float64) { c.Moisture = v }},
}

// Validate turns a decoded JSON payload into FieldConditions. Structural
// problems across all fields are reported together as a ValidationError.
// A structurally valid payload whose soil type or season is outside the
// vocabulary fails with yield.UnknownCategoryError. A missing createdAt is
// stamped with now.
func Validate(raw map[string]any, vocab yield.Vocabulary, now time.Time) (models.FieldConditions, error) {
	var (
		c    models.FieldConditions
		errs []FieldError
	)

	for _, f := range []struct {
		name string
		dst  *string
	}{{"soilType", &c.SoilType}, {"season", &c.Season}} {
		v, ok := raw[f.name]
		if !ok || v == nil {
			errs = append(errs, FieldError{f.name, "is required"})
			continue
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, FieldError{f.name, "must be a string"})
			continue
		}
		if s == "" {
			errs = append(errs, FieldError{f.name, "is required"})
			continue
		}
		*f.dst = s
	}

	for _, f := range numericFields {
		v, ok := raw[f.name]
		if !ok || v == nil {
			errs = append(errs, FieldError{f.name, "is required"})
			continue
		}
		n, err := toNumber(v)
		if err != nil {
			errs = append(errs, FieldError{f.name, err.Error()})
			continue
		}
		if reason := checkBound(n, f.bound); reason != "" {
			errs = append(errs, FieldError{f.name, reason})
			continue
		}
		f.set(&c, n)
	}

	c.CreatedAt = now.UTC()
	if v, ok := raw["createdAt"]; ok && v != nil {
		s, isString := v.(string)
		ts, err := time.Parse(time.RFC3339Nano, s)
		if !isString || err != nil {
			errs = append(errs, FieldError{"createdAt", "must be an RFC 3339 timestamp"})
		} else {
			c.CreatedAt = ts
		}
	}

	if len(errs) > 0 {
		return models.FieldConditions{}, &ValidationError{Fields: errs}
	}

	if vocab != nil {
		if err := yield.CheckCategories(vocab, c); err != nil {
			return models.FieldConditions{}, err
		}
	}
	return c, nil
}

func toNumber(v any) (float64, error) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		n = f
	default:
		return 0, fmt.Errorf("must be a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return n, nil
}

func checkBound(v float64, b bound) string {
	switch b {
	case positive:
		if v <= 0 {
			return "must be greater than 0"
		}
	case nonNegative:
		if v < 0 {
			return "must not be negative"
		}
	case percentage:
		if v < 0 || v > 100 {
			return "must be between 0 and 100"
		}
	}
	return ""
}
