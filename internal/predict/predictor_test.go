package predict

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

func newPredictor(t *testing.T, est yield.Estimator, mutate func(*Config)) *Predictor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(est, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPredictEndToEnd(t *testing.T) {
	t.Parallel()
	est := yield.NewSurface()
	p := newPredictor(t, est, nil)

	c, res, err := p.Predict(context.Background(), validPayload())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(res.TopNpk) != 5 {
		t.Fatalf("len(TopNpk) = %d, want 5", len(res.TopNpk))
	}
	if res.PredictedYield != res.TopNpk[0].Yield {
		t.Errorf("PredictedYield = %v, want topNpk[0].yield %v", res.PredictedYield, res.TopNpk[0].Yield)
	}

	best := math.Inf(-1)
	for _, pt := range DefaultGrid().Points() {
		y, _ := est.Estimate(c, pt)
		best = math.Max(best, y)
	}
	if math.Abs(res.TopNpk[0].Yield-best) > DefaultEpsilon {
		t.Errorf("top yield %v, brute-force max %v", res.TopNpk[0].Yield, best)
	}

	baseline, _ := est.Estimate(c, ReferenceNPK)
	if res.BaselineYield != baseline {
		t.Errorf("BaselineYield = %v, want %v", res.BaselineYield, baseline)
	}
	if res.PredictedYield < res.BaselineYield {
		t.Errorf("recommended yield %v below baseline %v", res.PredictedYield, res.BaselineYield)
	}
	if len(res.Sensitivities) != 4 {
		t.Errorf("len(Sensitivities) = %d, want 4", len(res.Sensitivities))
	}
	if _, ok := res.ModelMetrics.Get(); ok {
		t.Error("surface estimator should not report metrics")
	}
}

func TestPredictBoundaryInputs(t *testing.T) {
	t.Parallel()
	p := newPredictor(t, yield.NewSurface(), nil)
	raw := validPayload()
	raw["humidity"] = 100
	raw["moisture"] = 0

	_, res, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.PredictedYield < 0 {
		t.Errorf("PredictedYield = %v", res.PredictedYield)
	}
	for name, v := range map[string]float64{"sucrose": res.Sucrose, "crs": res.CRS} {
		if v < 0 || v > 100 {
			t.Errorf("%s = %v outside [0, 100]", name, v)
		}
	}
}

func TestPredictUnknownCategory(t *testing.T) {
	t.Parallel()
	calls := 0
	surface := yield.NewSurface()
	counting := estimatorFunc(func(c models.FieldConditions, npk models.NPK) (float64, error) {
		calls++
		return surface.Estimate(c, npk)
	})
	p := newPredictor(t, vocabEstimator{counting, surface}, nil)

	raw := validPayload()
	raw["soilType"] = "Volcanic"
	_, res, err := p.Predict(context.Background(), raw)
	var uc *yield.UnknownCategoryError
	if !errors.As(err, &uc) {
		t.Fatalf("err = %v, want UnknownCategoryError", err)
	}
	if res != nil {
		t.Error("expected no result")
	}
	if calls != 0 {
		t.Errorf("estimator called %d times before category check", calls)
	}
}

// vocabEstimator pairs an estimator with a vocabulary.
type vocabEstimator struct {
	yield.Estimator
	yield.Vocabulary
}

func TestPredictWithoutSensitivity(t *testing.T) {
	t.Parallel()
	p := newPredictor(t, yield.NewSurface(), func(c *Config) { c.Sensitivity = false })
	_, res, err := p.Predict(context.Background(), validPayload())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Sensitivities == nil || len(res.Sensitivities) != 0 {
		t.Errorf("Sensitivities = %#v, want empty slice", res.Sensitivities)
	}
}

func TestPredictReportsForestMetrics(t *testing.T) {
	t.Parallel()
	f, err := yield.LoadForest("../yield/testdata/forest.json")
	if err != nil {
		t.Fatalf("LoadForest: %v", err)
	}
	p := newPredictor(t, f, nil)

	_, res, err := p.Predict(context.Background(), validPayload())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	m, ok := res.ModelMetrics.Get()
	if !ok || m.R2 != 0.87 {
		t.Errorf("ModelMetrics = %+v, %v", m, ok)
	}
	if res.PredictedYield != 72.5 {
		t.Errorf("PredictedYield = %v, want 72.5", res.PredictedYield)
	}
	// Many mixes reach 72.5; the cheapest qualifying one wins.
	if got := res.TopNpk[0].NPK; got != (models.NPK{N: 70, P: 0, K: 50}) {
		t.Errorf("TopNpk[0] = %+v, want 70/0/50", got)
	}

	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]any
	if err := json.Unmarshal(b, &wire); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"predictedYield", "sucrose", "crs", "topNpk", "sensitivities", "modelMetrics"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire result missing %q", key)
		}
	}
}

func TestPredictOmitsAbsentMetrics(t *testing.T) {
	t.Parallel()
	p := newPredictor(t, yield.NewSurface(), nil)
	_, res, err := p.Predict(context.Background(), validPayload())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]any
	if err := json.Unmarshal(b, &wire); err != nil {
		t.Fatal(err)
	}
	if _, ok := wire["modelMetrics"]; ok {
		t.Error("modelMetrics should be omitted when absent")
	}
}

func TestPredictBaselineFailure(t *testing.T) {
	t.Parallel()
	broken := estimatorFunc(func(models.FieldConditions, models.NPK) (float64, error) {
		return 0, errors.New("model crashed")
	})
	p := newPredictor(t, broken, nil)

	_, res, err := p.Predict(context.Background(), validPayload())
	if err == nil || res != nil {
		t.Fatalf("expected failure without result, got %v, %v", res, err)
	}
	if kind, status, _ := Classify(err); kind != KindInternal || status != http.StatusInternalServerError {
		t.Errorf("Classify = %s/%d", kind, status)
	}
}

func TestPredictNoViableCandidate(t *testing.T) {
	t.Parallel()
	est := estimatorFunc(func(_ models.FieldConditions, npk models.NPK) (float64, error) {
		if npk == ReferenceNPK {
			return 60, nil
		}
		return 0, errors.New("model crashed")
	})
	p := newPredictor(t, est, func(c *Config) {
		c.Search.Grid = Grid{
			N: Range{Min: 0, Max: 30, Step: 10},
			P: Range{Min: 0, Max: 30, Step: 10},
			K: Range{Min: 0, Max: 30, Step: 10},
		}
	})

	_, _, err := p.Predict(context.Background(), validPayload())
	var nv *NoViableCandidateError
	if !errors.As(err, &nv) {
		t.Fatalf("err = %v, want NoViableCandidateError", err)
	}
	if kind, _, _ := Classify(err); kind != KindNoViableCandidate {
		t.Errorf("kind = %s", kind)
	}
}

func TestPredictTimeout(t *testing.T) {
	t.Parallel()
	slow := estimatorFunc(func(models.FieldConditions, models.NPK) (float64, error) {
		time.Sleep(2 * time.Millisecond)
		return 50, nil
	})
	p := newPredictor(t, slow, func(c *Config) {
		c.Timeout = 30 * time.Millisecond
		c.Search.Workers = 2
	})

	_, res, err := p.Predict(context.Background(), validPayload())
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.Stage != StageSearching {
		t.Errorf("Stage = %s, want searching", te.Stage)
	}
	if res != nil {
		t.Error("expected no partial result")
	}
	if kind, status, _ := Classify(err); kind != KindTimeout || status != http.StatusGatewayTimeout {
		t.Errorf("Classify = %s/%d", kind, status)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Search.TopK = 0
	if _, err := New(yield.NewSurface(), cfg); err == nil {
		t.Error("expected error for zero top K")
	}
	var ue *yield.UnavailableError
	if _, err := New(nil, DefaultConfig()); !errors.As(err, &ue) {
		t.Errorf("err = %v, want UnavailableError", err)
	}
}

func TestClassifyDistinguishesUserAndServiceErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{&ValidationError{Fields: []FieldError{{"area", "is required"}}}, KindValidation, 422},
		{&yield.UnknownCategoryError{Field: "season", Value: "Dry"}, KindUnknownCategory, 422},
		{&NoViableCandidateError{Evaluated: 3, Last: errors.New("x")}, KindNoViableCandidate, 500},
		{&TimeoutError{Stage: StageSearching, Budget: time.Second}, KindTimeout, 504},
		{&yield.UnavailableError{Source: "model.json", Err: errors.New("missing")}, KindEstimatorUnavailable, 503},
		{errors.New("boom"), KindInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			kind, status, body := Classify(tt.err)
			if kind != tt.kind || status != tt.status {
				t.Errorf("Classify = %s/%d, want %s/%d", kind, status, tt.kind, tt.status)
			}
			if body.Kind != tt.kind || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}
