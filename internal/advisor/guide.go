package advisor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lox/canecast/internal/models"
)

// Step is one plain-language action for the farmer.
type Step struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Guide is the "what should I do next" plan for one prediction.
type Guide struct {
	Steps     []Step `json:"steps"`
	Narrative string `json:"narrative,omitempty"`
	Source    string `json:"source"` // "rules" or "llm"
}

// Narrator writes a free-text advisory for a prediction.
type Narrator interface {
	Narrate(ctx context.Context, rec models.PredictionRecord, steps []Step) (string, error)
}

type Advisor struct {
	narrator Narrator
}

// New returns an advisor. A nil narrator gives rule-based guides only.
func New(n Narrator) *Advisor {
	return &Advisor{narrator: n}
}

// Guide builds the rule-based steps and, when a narrator is configured,
// adds its narrative. Narrator failures are logged and the guide falls
// back to the steps alone.
func (a *Advisor) Guide(ctx context.Context, rec models.PredictionRecord) Guide {
	g := Guide{Steps: Steps(rec), Source: "rules"}
	if a.narrator == nil {
		return g
	}
	text, err := a.narrator.Narrate(ctx, rec, g.Steps)
	if err != nil {
		log.Printf("advisor: narrative for %s failed, using rules: %v", rec.ID, err)
		return g
	}
	g.Narrative = strings.TrimSpace(text)
	g.Source = "llm"
	return g
}

// Steps returns the three standard actions: confirm field vitals, plan the
// fertilizer dose, and watch the most sensitive parameters.
func Steps(rec models.PredictionRecord) []Step {
	in, p := rec.Input, rec.Prediction
	steps := []Step{{
		Title: "Confirm field vitals.",
		Detail: fmt.Sprintf("Soil %s, season %s, moisture %g%%. Keep these updated if conditions change.",
			in.SoilType, in.Season, in.Moisture),
	}}

	if len(p.TopNpk) > 0 {
		top := p.TopNpk[0]
		detail := fmt.Sprintf("Try N %d / P %d / K %d kg/ha for an estimated %.2f t/hectare.", top.N, top.P, top.K, top.Yield)
		if gain := top.Yield - p.BaselineYield; p.BaselineYield > 0 && gain > 0.005 {
			detail += fmt.Sprintf(" That is %.2f t/hectare above a typical 100/50/60 application.", gain)
		}
		if len(p.TopNpk) > 1 {
			detail += " Alternatives are listed in the recommendation table."
		}
		steps = append(steps, Step{Title: "Plan fertilizer doses.", Detail: detail})
	} else {
		steps = append(steps, Step{
			Title:  "Plan fertilizer doses.",
			Detail: "Once predictions are generated, a suggested NPK split appears here.",
		})
	}

	if len(p.Sensitivities) > 0 {
		n := min(2, len(p.Sensitivities))
		names := make([]string, n)
		for i := range names {
			names[i] = p.Sensitivities[i].Parameter
		}
		steps = append(steps, Step{
			Title: "Monitor the most sensitive factors.",
			Detail: fmt.Sprintf("%s currently move yield the most. Adjust irrigation or nutrients there first.",
				strings.Join(names, " & ")),
		})
	} else {
		steps = append(steps, Step{
			Title:  "Monitor the most sensitive factors.",
			Detail: "Run a prediction with sensitivity analysis to learn which parameter changes have the biggest impact.",
		})
	}
	return steps
}
