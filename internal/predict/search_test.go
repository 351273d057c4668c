package predict

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/yield"
)

type estimatorFunc func(c models.FieldConditions, npk models.NPK) (float64, error)

func (f estimatorFunc) Estimate(c models.FieldConditions, npk models.NPK) (float64, error) {
	return f(c, npk)
}

func loamyKharif() models.FieldConditions {
	return models.FieldConditions{
		SoilType:    "Loamy",
		Season:      "Kharif",
		Area:        3.5,
		Temperature: 27,
		Rainfall:    900,
		Humidity:    70,
		Moisture:    45,
	}
}

func TestGridPoints(t *testing.T) {
	t.Parallel()
	points := DefaultGrid().Points()
	if len(points) != 16*11*11 {
		t.Fatalf("len(points) = %d, want %d", len(points), 16*11*11)
	}
	if points[0] != (models.NPK{}) {
		t.Errorf("first point = %+v, want zero mix", points[0])
	}
	if last := points[len(points)-1]; last != (models.NPK{N: 150, P: 100, K: 100}) {
		t.Errorf("last point = %+v", last)
	}
}

func TestSearchConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*SearchConfig)
	}{
		{"zero step", func(c *SearchConfig) { c.Grid.N.Step = 0 }},
		{"negative min", func(c *SearchConfig) { c.Grid.P.Min = -10 }},
		{"max below min", func(c *SearchConfig) { c.Grid.K = Range{Min: 50, Max: 40, Step: 5} }},
		{"zero top k", func(c *SearchConfig) { c.TopK = 0 }},
		{"negative epsilon", func(c *SearchConfig) { c.Epsilon = -1 }},
	}
	if err := DefaultSearchConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSearchConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSearchFindsGridMaximum(t *testing.T) {
	t.Parallel()
	est := yield.NewSurface()
	c := loamyKharif()
	cfg := DefaultSearchConfig()

	top, err := Search(context.Background(), est, c, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(top) != 5 {
		t.Fatalf("len(top) = %d, want 5", len(top))
	}

	best := math.Inf(-1)
	for _, p := range cfg.Grid.Points() {
		y, err := est.Estimate(c, p)
		if err != nil {
			t.Fatal(err)
		}
		best = math.Max(best, y)
	}
	if math.Abs(top[0].Yield-best) > cfg.Epsilon {
		t.Errorf("top yield = %v, brute-force max = %v", top[0].Yield, best)
	}

	for i := 0; i+1 < len(top); i++ {
		if top[i].Yield < top[i+1].Yield-cfg.Epsilon {
			t.Errorf("top[%d].Yield %v < top[%d].Yield %v", i, top[i].Yield, i+1, top[i+1].Yield)
		}
	}
}

func TestSearchTieBreak(t *testing.T) {
	t.Parallel()
	flat := estimatorFunc(func(models.FieldConditions, models.NPK) (float64, error) {
		return 70, nil
	})

	top, err := Search(context.Background(), flat, loamyKharif(), DefaultSearchConfig())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []models.NPK{
		{N: 0, P: 0, K: 0},
		{N: 0, P: 0, K: 10},
		{N: 0, P: 10, K: 0},
		{N: 10, P: 0, K: 0},
		{N: 0, P: 0, K: 20},
	}
	var got []models.NPK
	for _, c := range top {
		got = append(got, c.NPK)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRankEpsilon(t *testing.T) {
	t.Parallel()
	c := []models.NpkCandidate{
		{NPK: models.NPK{N: 50, P: 50, K: 50}, Yield: 80.0000004},
		{NPK: models.NPK{N: 10, P: 10, K: 10}, Yield: 80},
		{NPK: models.NPK{N: 90, P: 0, K: 0}, Yield: 81},
		{NPK: models.NPK{N: 0, P: 10, K: 20}, Yield: 80},
	}
	Rank(c, 1e-6)

	want := []models.NPK{{N: 90}, {N: 0, P: 10, K: 20}, {N: 10, P: 10, K: 10}, {N: 50, P: 50, K: 50}}
	for i := range want {
		if c[i].NPK != want[i] {
			t.Errorf("c[%d] = %+v, want %+v", i, c[i].NPK, want[i])
		}
	}
}

func TestSearchDeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()
	est := yield.NewSurface()
	c := loamyKharif()

	var first []models.NpkCandidate
	for _, workers := range []int{1, 2, 7, 32} {
		cfg := DefaultSearchConfig()
		cfg.Workers = workers
		top, err := Search(context.Background(), est, c, cfg)
		if err != nil {
			t.Fatalf("Search(workers=%d): %v", workers, err)
		}
		if first == nil {
			first = top
			continue
		}
		if !reflect.DeepEqual(top, first) {
			t.Errorf("workers=%d: %v, want %v", workers, top, first)
		}
	}
}

func TestSearchSkipsFailedPoints(t *testing.T) {
	t.Parallel()
	surface := yield.NewSurface()
	est := estimatorFunc(func(c models.FieldConditions, npk models.NPK) (float64, error) {
		if npk.N >= 110 {
			return 0, errors.New("model crashed")
		}
		return surface.Estimate(c, npk)
	})

	top, err := Search(context.Background(), est, loamyKharif(), DefaultSearchConfig())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, c := range top {
		if c.N >= 110 {
			t.Errorf("failed point %+v was ranked", c.NPK)
		}
	}
}

func TestSearchNoViableCandidate(t *testing.T) {
	t.Parallel()
	broken := estimatorFunc(func(models.FieldConditions, models.NPK) (float64, error) {
		return 0, errors.New("model crashed")
	})

	_, err := Search(context.Background(), broken, loamyKharif(), DefaultSearchConfig())
	var nv *NoViableCandidateError
	if !errors.As(err, &nv) {
		t.Fatalf("err = %v, want NoViableCandidateError", err)
	}
	if nv.Evaluated != len(DefaultGrid().Points()) {
		t.Errorf("Evaluated = %d", nv.Evaluated)
	}
}

func TestSearchCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Search(ctx, yield.NewSurface(), loamyKharif(), DefaultSearchConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
