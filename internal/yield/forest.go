package yield

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/lox/canecast/internal/models"
)

// Numeric feature names understood in a forest artifact. Categorical
// features are one-hot columns named "<field>__<value>".
const (
	FeatureArea        = "area"
	FeatureTemperature = "temperature"
	FeatureRainfall    = "rainfall"
	FeatureHumidity    = "humidity"
	FeatureMoisture    = "moisture"
	FeatureNitrogen    = "nitrogen"
	FeaturePhosphorus  = "phosphorus"
	FeaturePotassium   = "potassium"
)

// Artifact is the on-disk form of a trained tree ensemble.
type Artifact struct {
	Features   []string            `json:"features"`
	Categories map[string][]string `json:"categories"`
	Trees      []Tree              `json:"trees"`
	Metrics    *models.Metrics     `json:"metrics,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split (Feature >= 0) or a leaf (Feature == -1). Samples with
// x[Feature] <= Threshold go left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

type column struct {
	numeric  string
	catField string
	catValue string
}

// Forest averages the predictions of a frozen regression tree ensemble.
type Forest struct {
	columns []column
	soils   []string
	seasons []string
	trees   []Tree
	metrics *models.Metrics
}

// LoadForest reads and checks a forest artifact. Any problem is reported
// as an UnavailableError.
func LoadForest(path string) (*Forest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &UnavailableError{Source: path, Err: err}
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, &UnavailableError{Source: path, Err: fmt.Errorf("decode artifact: %w", err)}
	}
	f, err := NewForest(a)
	if err != nil {
		return nil, &UnavailableError{Source: path, Err: err}
	}
	return f, nil
}

func NewForest(a Artifact) (*Forest, error) {
	if len(a.Trees) == 0 {
		return nil, errors.New("artifact has no trees")
	}
	f := &Forest{
		soils:   a.Categories["soilType"],
		seasons: a.Categories["season"],
		trees:   a.Trees,
		metrics: a.Metrics,
	}
	if len(f.soils) == 0 || len(f.seasons) == 0 {
		return nil, errors.New("artifact must list soilType and season categories")
	}

	for _, name := range a.Features {
		col, err := parseColumn(name)
		if err != nil {
			return nil, err
		}
		f.columns = append(f.columns, col)
	}

	for i, t := range a.Trees {
		if err := checkTree(t, len(f.columns)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return f, nil
}

func parseColumn(name string) (column, error) {
	if field, value, ok := strings.Cut(name, "__"); ok {
		if field != "soilType" && field != "season" {
			return column{}, fmt.Errorf("unsupported categorical feature %q", name)
		}
		return column{catField: field, catValue: value}, nil
	}
	switch name {
	case FeatureArea, FeatureTemperature, FeatureRainfall, FeatureHumidity,
		FeatureMoisture, FeatureNitrogen, FeaturePhosphorus, FeaturePotassium:
		return column{numeric: name}, nil
	}
	return column{}, fmt.Errorf("unknown feature %q", name)
}

func checkTree(t Tree, width int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature == -1 {
			continue
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		// Children must point forward so traversal always terminates.
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func (f *Forest) row(c models.FieldConditions, npk models.NPK) []float64 {
	x := make([]float64, len(f.columns))
	for i, col := range f.columns {
		switch col.numeric {
		case FeatureArea:
			x[i] = c.Area
		case FeatureTemperature:
			x[i] = c.Temperature
		case FeatureRainfall:
			x[i] = c.Rainfall
		case FeatureHumidity:
			x[i] = c.Humidity
		case FeatureMoisture:
			x[i] = c.Moisture
		case FeatureNitrogen:
			x[i] = float64(npk.N)
		case FeaturePhosphorus:
			x[i] = float64(npk.P)
		case FeaturePotassium:
			x[i] = float64(npk.K)
		case "":
			if (col.catField == "soilType" && c.SoilType == col.catValue) ||
				(col.catField == "season" && c.Season == col.catValue) {
				x[i] = 1
			}
		}
	}
	return x
}

func (f *Forest) Estimate(c models.FieldConditions, npk models.NPK) (float64, error) {
	if err := CheckCategories(f, c); err != nil {
		return 0, err
	}
	x := f.row(c, npk)

	var sum float64
	for _, t := range f.trees {
		i := 0
		for t.Nodes[i].Feature != -1 {
			n := t.Nodes[i]
			if x[n.Feature] <= n.Threshold {
				i = n.Left
			} else {
				i = n.Right
			}
		}
		sum += t.Nodes[i].Value
	}
	return math.Max(0, sum/float64(len(f.trees))), nil
}

func (f *Forest) SoilTypes() []string { return f.soils }
func (f *Forest) Seasons() []string   { return f.seasons }
func (f *Forest) Kind() string        { return "forest" }

// Metrics reports the artifact's held-out accuracy, when it recorded any.
func (f *Forest) Metrics() models.ModelMetrics {
	if f.metrics == nil {
		return models.NoMetrics()
	}
	return models.SomeMetrics(*f.metrics)
}
