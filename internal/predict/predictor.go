package predict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lox/canecast/internal/metrics"
	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

// Stage is a step of a prediction request.
type Stage int

const (
	StageValidating Stage = iota
	StageEstimating
	StageSearching
	StageDeriving
	StageAnalyzing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageEstimating:
		return "estimating"
	case StageSearching:
		return "searching"
	case StageDeriving:
		return "deriving"
	case StageAnalyzing:
		return "analyzing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

const DefaultTimeout = 2 * time.Second

// ReferenceNPK is the typical mix used for the baseline estimate.
var ReferenceNPK = models.NPK{N: 100, P: 50, K: 60}

type Config struct {
	Search      SearchConfig
	Timeout     time.Duration
	Sensitivity bool
	Reference   models.NPK
}

func DefaultConfig() Config {
	return Config{
		Search:      DefaultSearchConfig(),
		Timeout:     DefaultTimeout,
		Sensitivity: true,
		Reference:   ReferenceNPK,
	}
}

// Predictor runs prediction requests against a shared, read-only
// estimator. It is safe for concurrent use.
type Predictor struct {
	est     yield.Estimator
	vocab   yield.Vocabulary
	cfg     Config
	metrics models.ModelMetrics
	now     func() time.Time
}

func New(est yield.Estimator, cfg Config) (*Predictor, error) {
	if est == nil {
		return nil, &yield.UnavailableError{Source: "predictor", Err: errors.New("no estimator configured")}
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, fmt.Errorf("search config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	vocab, _ := est.(yield.Vocabulary)
	return &Predictor{
		est:     est,
		vocab:   vocab,
		cfg:     cfg,
		metrics: yield.MetricsOf(est),
		now:     time.Now,
	}, nil
}

func (p *Predictor) Config() Config               { return p.cfg }
func (p *Predictor) Estimator() yield.Estimator   { return p.est }
func (p *Predictor) Metrics() models.ModelMetrics { return p.metrics }

// Vocabulary returns the accepted soil types and seasons, or nils if the
// estimator does not declare them.
func (p *Predictor) Vocabulary() (soils, seasons []string) {
	if p.vocab == nil {
		return nil, nil
	}
	return p.vocab.SoilTypes(), p.vocab.Seasons()
}

// Validate checks a raw payload against the estimator's vocabulary without
// running a prediction.
func (p *Predictor) Validate(raw map[string]any) (models.FieldConditions, error) {
	return Validate(raw, p.vocab, p.now())
}

// Predict validates a raw payload and runs the full pipeline on it.
func (p *Predictor) Predict(ctx context.Context, raw map[string]any) (models.FieldConditions, *models.PredictionResult, error) {
	start := time.Now()
	c, err := Validate(raw, p.vocab, p.now())
	observeStage(StageValidating, start)
	if err != nil {
		p.fail(StageValidating, err)
		return models.FieldConditions{}, nil, err
	}
	res, err := p.PredictConditions(ctx, c)
	if err != nil {
		return models.FieldConditions{}, nil, err
	}
	return c, res, nil
}

// PredictConditions runs Estimating, Searching, Deriving and optionally
// Analyzing on validated conditions. Any stage failure fails the whole
// request; no partial result is returned.
func (p *Predictor) PredictConditions(ctx context.Context, c models.FieldConditions) (*models.PredictionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	r := run{p: p, ctx: ctx, started: time.Now()}
	res, err := r.exec(c)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{Stage: r.stage, Budget: p.cfg.Timeout}
		}
		p.fail(r.stage, err)
		return nil, err
	}

	metrics.Predictions.WithLabelValues("ok").Inc()
	best := res.TopNpk[0]
	log.Printf("predict: %s/%s yield=%.2f t/ha npk=%d/%d/%d sucrose=%.2f crs=%.2f in %s",
		c.SoilType, c.Season, res.PredictedYield, best.N, best.P, best.K, res.Sucrose, res.CRS,
		time.Since(r.started).Round(time.Microsecond))
	return res, nil
}

func (p *Predictor) fail(stage Stage, err error) {
	kind, _, _ := Classify(err)
	metrics.Predictions.WithLabelValues(kind).Inc()
	log.Printf("predict: failed while %s (%s): %v", stage, kind, err)
}

type run struct {
	p       *Predictor
	ctx     context.Context
	stage   Stage
	started time.Time
	mark    time.Time
}

// enter finishes timing the current stage and moves to the next one.
func (r *run) enter(s Stage) error {
	if !r.mark.IsZero() {
		observeStage(r.stage, r.mark)
	}
	r.stage = s
	r.mark = time.Now()
	return r.ctx.Err()
}

func (r *run) exec(c models.FieldConditions) (*models.PredictionResult, error) {
	cfg := r.p.cfg

	if err := r.enter(StageEstimating); err != nil {
		return nil, err
	}
	baseline, err := r.p.est.Estimate(c, cfg.Reference)
	if err != nil {
		return nil, fmt.Errorf("baseline estimate: %w", err)
	}

	if err := r.enter(StageSearching); err != nil {
		return nil, err
	}
	top, err := Search(r.ctx, r.p.est, c, cfg.Search)
	if err != nil {
		return nil, err
	}

	if err := r.enter(StageDeriving); err != nil {
		return nil, err
	}
	best := top[0]
	q := DeriveQuality(best.Yield, best.NPK, c)

	sens := []models.Sensitivity{}
	if cfg.Sensitivity {
		if err := r.enter(StageAnalyzing); err != nil {
			return nil, err
		}
		sens, err = Analyze(r.ctx, r.p.est, c, best.NPK, cfg.Search.Workers)
		if err != nil {
			return nil, err
		}
	}

	if err := r.enter(StageDone); err != nil {
		return nil, err
	}
	return &models.PredictionResult{
		PredictedYield: best.Yield,
		BaselineYield:  baseline,
		Sucrose:        q.Sucrose,
		CRS:            q.CRS,
		TopNpk:         top,
		Sensitivities:  sens,
		ModelMetrics:   r.p.metrics,
	}, nil
}

func observeStage(s Stage, since time.Time) {
	metrics.StageDuration.WithLabelValues(s.String()).Observe(time.Since(since).Seconds())
}
