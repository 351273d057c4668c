package predict

import (
	"math"

	"github.com/lox/canecast/internal/models"
)

const (
	sucroseMin = 9.5
	sucroseMax = 20.0
	crsMin     = 7.5
	crsMax     = 16.0
	crsRatio   = 0.85

	// Above this mean temperature ripening suffers and sucrose drops.
	ripeningTempLimit = 32.0
	ripeningPenalty   = 0.05
)

// referenceRatio is the N:P:K balance sugarcane responds best to.
var referenceRatio = [3]float64{2, 1, 1.5}

// Quality holds the derived sugar metrics in percent.
type Quality struct {
	Sucrose float64
	CRS     float64
}

// DeriveQuality computes sucrose % and commercial recoverable sugar %.
// Both rise with yield and with how closely the mix matches the reference
// nutrient balance, and stay inside calibrated bounds within [0, 100].
func DeriveQuality(yieldTHa float64, best models.NPK, c models.FieldConditions) Quality {
	sucrose := 12 + (yieldTHa-55)/18
	sucrose += NutrientBalance(best) - 0.5
	sucrose -= ripeningPenalty * math.Max(0, c.Temperature-ripeningTempLimit)
	sucrose = clamp(sucrose, sucroseMin, sucroseMax)

	return Quality{
		Sucrose: sucrose,
		CRS:     clamp(sucrose*crsRatio, crsMin, crsMax),
	}
}

// NutrientBalance is the cosine similarity between the mix and the
// reference ratio, in [0, 1]. An empty mix scores 0.
func NutrientBalance(m models.NPK) float64 {
	v := [3]float64{float64(m.N), float64(m.P), float64(m.K)}
	var dot, nv, nr float64
	for i := range v {
		dot += v[i] * referenceRatio[i]
		nv += v[i] * v[i]
		nr += referenceRatio[i] * referenceRatio[i]
	}
	if nv == 0 {
		return 0
	}
	return clamp(dot/(math.Sqrt(nv)*math.Sqrt(nr)), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
