package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/lox/canecast/internal/metrics"
	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

const (
	DefaultTopK    = 5
	DefaultEpsilon = 1e-6
)

// Range is an inclusive nutrient range in kg/ha.
type Range struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

func (r Range) values() []int {
	var out []int
	for v := r.Min; v <= r.Max; v += r.Step {
		out = append(out, v)
	}
	return out
}

func (r Range) validate(name string) error {
	switch {
	case r.Step <= 0:
		return fmt.Errorf("%s step must be positive", name)
	case r.Min < 0:
		return fmt.Errorf("%s min must not be negative", name)
	case r.Max < r.Min:
		return fmt.Errorf("%s max %d below min %d", name, r.Max, r.Min)
	}
	return nil
}

// Grid is the fertilizer search space.
type Grid struct {
	N Range `json:"n"`
	P Range `json:"p"`
	K Range `json:"k"`
}

func DefaultGrid() Grid {
	return Grid{
		N: Range{Min: 0, Max: 150, Step: 10},
		P: Range{Min: 0, Max: 100, Step: 10},
		K: Range{Min: 0, Max: 100, Step: 10},
	}
}

// Points enumerates the grid in N, then P, then K order.
func (g Grid) Points() []models.NPK {
	ns, ps, ks := g.N.values(), g.P.values(), g.K.values()
	out := make([]models.NPK, 0, len(ns)*len(ps)*len(ks))
	for _, n := range ns {
		for _, p := range ps {
			for _, k := range ks {
				out = append(out, models.NPK{N: n, P: p, K: k})
			}
		}
	}
	return out
}

// SearchConfig controls the NPK grid search.
type SearchConfig struct {
	Grid    Grid
	TopK    int
	Epsilon float64
	Workers int
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Grid:    DefaultGrid(),
		TopK:    DefaultTopK,
		Epsilon: DefaultEpsilon,
		Workers: runtime.GOMAXPROCS(0),
	}
}

func (c SearchConfig) Validate() error {
	if err := c.Grid.N.validate("nitrogen"); err != nil {
		return err
	}
	if err := c.Grid.P.validate("phosphorus"); err != nil {
		return err
	}
	if err := c.Grid.K.validate("potassium"); err != nil {
		return err
	}
	if c.TopK <= 0 {
		return errors.New("top K must be positive")
	}
	if c.Epsilon < 0 {
		return errors.New("epsilon must not be negative")
	}
	return nil
}

// Search evaluates the estimator at every grid point with the field
// conditions held fixed and returns the best TopK candidates. Points the
// estimator fails on are skipped; if all fail, NoViableCandidateError.
func Search(ctx context.Context, est yield.Estimator, c models.FieldConditions, cfg SearchConfig) ([]models.NpkCandidate, error) {
	points := cfg.Grid.Points()
	yields, errs, err := evaluate(ctx, cfg.Workers, len(points), func(i int) (float64, error) {
		return est.Estimate(c, points[i])
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]models.NpkCandidate, 0, len(points))
	var last error
	for i, p := range points {
		if errs[i] != nil {
			last = errs[i]
			continue
		}
		candidates = append(candidates, models.NpkCandidate{NPK: p, Yield: yields[i]})
	}
	if failed := len(points) - len(candidates); failed > 0 {
		metrics.GridPointsFailed.Add(float64(failed))
	}
	if len(candidates) == 0 {
		return nil, &NoViableCandidateError{Evaluated: len(points), Last: last}
	}

	Rank(candidates, cfg.Epsilon)
	if len(candidates) > cfg.TopK {
		candidates = candidates[:cfg.TopK]
	}
	return candidates, nil
}

// Rank orders candidates by yield descending. Yields within eps of each
// other prefer lower total nutrient mass, then lower N, P and K.
func Rank(c []models.NpkCandidate, eps float64) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i], c[j]
		if math.Abs(a.Yield-b.Yield) > eps {
			return a.Yield > b.Yield
		}
		if a.Mass() != b.Mass() {
			return a.Mass() < b.Mass()
		}
		if a.N != b.N {
			return a.N < b.N
		}
		if a.P != b.P {
			return a.P < b.P
		}
		return a.K < b.K
	})
}

// evaluate runs fn for indices [0, n) on a bounded worker pool. Results
// are stored by index so the outcome does not depend on scheduling. The
// returned error is non-nil only if ctx ended first.
func evaluate(ctx context.Context, workers, n int, fn func(i int) (float64, error)) ([]float64, []error, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	yields := make([]float64, n)
	errs := make([]error, n)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				yields[i], errs[i] = fn(i)
			}
		}()
	}

	sent := 0
feed:
	for ; sent < n; sent++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- sent:
		}
	}
	close(jobs)
	wg.Wait()

	metrics.EstimatorCalls.Add(float64(sent))
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return yields, errs, nil
}
