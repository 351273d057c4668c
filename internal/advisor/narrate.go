package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/canecast/internal/metrics"
	"github.com/lox/canecast/internal/models"
)

const systemPrompt = `You are an agronomy extension officer advising smallholder sugarcane farmers.
Write a short, plain-language advisory (at most 120 words) from the prediction data.
Mention the recommended NPK dose, the expected yield and sugar recovery, and the
two field factors to watch. Do not invent numbers that are not in the data.`

var errEmptyCompletion = errors.New("empty completion")

// complete calls the model until it returns text, retrying errors that
// retryable accepts with exponential backoff for up to maxWait.
func complete(ctx context.Context, maxWait time.Duration, retryable func(error) bool, call func() (string, error)) (string, error) {
	var text string
	operation := func() error {
		start := time.Now()
		out, err := call()
		metrics.AdvisorLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.AdvisorCalls.WithLabelValues("error").Inc()
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if strings.TrimSpace(out) == "" {
			metrics.AdvisorCalls.WithLabelValues("empty").Inc()
			return backoff.Permanent(errEmptyCompletion)
		}
		metrics.AdvisorCalls.WithLabelValues("ok").Inc()
		text = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func buildPrompt(rec models.PredictionRecord, steps []Step) string {
	in, p := rec.Input, rec.Prediction
	var b strings.Builder
	fmt.Fprintf(&b, "Field: soil %s, season %s, area %g acres, temperature %g°C, rainfall %g mm, humidity %g%%, soil moisture %g%%.\n",
		in.SoilType, in.Season, in.Area, in.Temperature, in.Rainfall, in.Humidity, in.Moisture)
	fmt.Fprintf(&b, "Predicted yield: %.2f t/ha (typical dose gives %.2f t/ha). Sucrose %.2f%%, CRS %.2f%%.\n",
		p.PredictedYield, p.BaselineYield, p.Sucrose, p.CRS)
	b.WriteString("Top fertilizer mixes (kg/ha):\n")
	for _, c := range p.TopNpk {
		fmt.Fprintf(&b, "- N %d / P %d / K %d -> %.2f t/ha\n", c.N, c.P, c.K, c.Yield)
	}
	if len(p.Sensitivities) > 0 {
		b.WriteString("Yield change when each factor rises by one step (+5°C, +300 mm, +10 points humidity or moisture):\n")
		for _, s := range p.Sensitivities {
			fmt.Fprintf(&b, "- %s: %+.3f t/ha\n", s.Parameter, s.Delta)
		}
	}
	b.WriteString("Standard steps:\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, s.Title, s.Detail)
	}
	return b.String()
}
