package yield

import (
	"math"

	"github.com/lox/canecast/internal/models"
)

// Surface is a closed-form agronomic response model. It is the default
// estimator when no trained artifact is configured.
//
// yield = base(soil) * season * nutrients * temp * rain * humidity * moisture * scale
type Surface struct{}

var soilBase = map[string]float64{
	"Alluvial":   82,
	"Black":      78,
	"Loamy":      80,
	"Clay":       72,
	"Sandy Loam": 70,
	"Red":        68,
	"Laterite":   64,
}

var seasonFactor = map[string]float64{
	"Autumn":  1.05,
	"Spring":  1.02,
	"Kharif":  0.98,
	"Monsoon": 0.97,
	"Rabi":    0.95,
	"Summer":  0.93,
	"Winter":  0.90,
	"Zaid":    0.90,
}

// Mitscherlich response a*(1-exp(-c*x)) with a quadratic penalty above the
// agronomic ceiling.
type nutrientCurve struct {
	gain    float64
	rate    float64
	ceiling float64
	penalty float64
}

var (
	nitrogenCurve   = nutrientCurve{gain: 0.32, rate: 0.025, ceiling: 110, penalty: 0.00002}
	phosphorusCurve = nutrientCurve{gain: 0.12, rate: 0.040, ceiling: 70, penalty: 0.00003}
	potassiumCurve  = nutrientCurve{gain: 0.15, rate: 0.030, ceiling: 80, penalty: 0.00002}
)

func (c nutrientCurve) response(x float64) float64 {
	r := c.gain * (1 - math.Exp(-c.rate*x))
	if x > c.ceiling {
		r -= c.penalty * (x - c.ceiling) * (x - c.ceiling)
	}
	return r
}

// optimum returns 1 at the optimum and decays quadratically, floored at 0.
func optimum(x, best, width float64) float64 {
	d := (x - best) / width
	return math.Max(0, 1-d*d)
}

func NewSurface() *Surface {
	return &Surface{}
}

func (s *Surface) Estimate(c models.FieldConditions, npk models.NPK) (float64, error) {
	if err := CheckCategories(s, c); err != nil {
		return 0, err
	}

	nutrients := 0.55 +
		nitrogenCurve.response(float64(npk.N)) +
		phosphorusCurve.response(float64(npk.P)) +
		potassiumCurve.response(float64(npk.K))

	y := soilBase[c.SoilType] * seasonFactor[c.Season] * nutrients
	y *= optimum(c.Temperature, 30, 20)
	y *= optimum(c.Rainfall, 1500, 2600)
	y *= 0.6 + 0.4*optimum(c.Humidity, 70, 130)
	y *= 0.5 + 0.5*optimum(c.Moisture, 60, 100)
	// Larger holdings see slightly lower per-hectare yields.
	y *= 1 - 0.01*math.Log1p(math.Max(0, c.Area))

	return math.Max(0, y), nil
}

func (s *Surface) SoilTypes() []string { return models.SoilTypes }
func (s *Surface) Seasons() []string   { return models.Seasons }
func (s *Surface) Kind() string        { return "surface" }
