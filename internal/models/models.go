package models

import (
	"encoding/json"
	"time"
)

// Soil types and seasons the built-in estimator understands. A loaded
// model artifact may carry a different vocabulary.
var (
	SoilTypes = []string{"Alluvial", "Black", "Red", "Laterite", "Sandy Loam", "Clay", "Loamy"}
	Seasons   = []string{"Autumn", "Spring", "Summer", "Monsoon", "Winter", "Kharif", "Rabi", "Zaid"}
)

// FieldConditions is a validated set of farm readings. Area is in acres,
// rainfall in millimetres, temperature in degrees Celsius.
type FieldConditions struct {
	SoilType    string    `json:"soilType"`
	Season      string    `json:"season"`
	Area        float64   `json:"area"`
	Temperature float64   `json:"temperature"`
	Rainfall    float64   `json:"rainfall"`
	Humidity    float64   `json:"humidity"`
	Moisture    float64   `json:"moisture"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NPK is a fertilizer mix in kg/ha.
type NPK struct {
	N int `json:"n"`
	P int `json:"p"`
	K int `json:"k"`
}

// Mass is the total nutrient mass of the mix.
func (m NPK) Mass() int {
	return m.N + m.P + m.K
}

// NpkCandidate is a fertilizer mix with its predicted yield in t/ha.
type NpkCandidate struct {
	NPK
	Yield float64 `json:"yield"`
}

type Sensitivity struct {
	Parameter string  `json:"parameter"`
	Delta     float64 `json:"delta"`
}

// Metrics are static accuracy figures of a trained estimator.
type Metrics struct {
	R2  float64 `json:"r2"`
	MAE float64 `json:"mae"`
}

// ModelMetrics is an optional Metrics value. The zero value is absent and
// is dropped from JSON output.
type ModelMetrics struct {
	metrics Metrics
	present bool
}

func SomeMetrics(m Metrics) ModelMetrics {
	return ModelMetrics{metrics: m, present: true}
}

func NoMetrics() ModelMetrics {
	return ModelMetrics{}
}

// Get returns the metrics and whether they are present.
func (o ModelMetrics) Get() (Metrics, bool) {
	return o.metrics, o.present
}

func (o ModelMetrics) IsZero() bool {
	return !o.present
}

func (o ModelMetrics) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.metrics)
}

func (o *ModelMetrics) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = ModelMetrics{}
		return nil
	}
	var m Metrics
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*o = SomeMetrics(m)
	return nil
}

// PredictionResult is the outcome of one prediction request.
type PredictionResult struct {
	PredictedYield float64        `json:"predictedYield"`
	BaselineYield  float64        `json:"baselineYield"`
	Sucrose        float64        `json:"sucrose"`
	CRS            float64        `json:"crs"`
	TopNpk         []NpkCandidate `json:"topNpk"`
	Sensitivities  []Sensitivity  `json:"sensitivities"`
	ModelMetrics   ModelMetrics   `json:"modelMetrics,omitzero"`
}

// PredictionRecord pairs an input snapshot with its prediction for the
// history log.
type PredictionRecord struct {
	ID         string           `json:"id"`
	Input      FieldConditions  `json:"input"`
	Prediction PredictionResult `json:"prediction"`
}
