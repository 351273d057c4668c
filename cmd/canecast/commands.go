package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/predict"
	"github.com/lox/canecast/internal/store"
)

// errPredictFailed signals that an error body was already written and the
// process should exit with status 1.
var errPredictFailed = errors.New("prediction failed")

type PredictCmd struct {
	Save bool `name:"save" help:"Also append the result to the history database."`
}

func (c *PredictCmd) Run(g *Globals) error {
	p, err := g.newPredictor()
	if err != nil {
		writeFailure(os.Stdout, err)
		return errPredictFailed
	}

	var st *store.Store
	if c.Save {
		s, closeDB, err := g.openStore()
		if err != nil {
			return err
		}
		defer closeDB()
		st = s
	}

	ctx, cancel := signalContext()
	defer cancel()
	return runPredict(ctx, p, st, os.Stdin, os.Stdout)
}

// runPredict reads one payload from in and writes either the result or an
// error body to out. A nil store skips saving.
func runPredict(ctx context.Context, p *predict.Predictor, st *store.Store, in io.Reader, out io.Writer) error {
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		writeBody(out, predict.ErrorBody{Error: "Your input was invalid: stdin must hold one JSON object", Kind: predict.KindValidation})
		return errPredictFailed
	}

	c, res, err := p.Predict(ctx, raw)
	if err != nil {
		writeFailure(out, err)
		return errPredictFailed
	}
	if st != nil {
		rec := models.PredictionRecord{ID: c.CreatedAt.UTC().Format(time.RFC3339Nano), Input: c, Prediction: *res}
		if err := st.InsertRecord(rec); err != nil {
			return err
		}
	}
	return writeBody(out, res)
}

func writeFailure(out io.Writer, err error) {
	_, _, body := predict.Classify(err)
	writeBody(out, body)
}

func writeBody(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type HistoryCmd struct {
	Limit int  `name:"limit" short:"n" default:"10" help:"Number of records to show."`
	JSON  bool `name:"json" help:"Print records as JSON."`
	Clear bool `name:"clear" help:"Delete every saved record."`
}

func (c *HistoryCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	return c.run(st, os.Stdout)
}

func (c *HistoryCmd) run(st *store.Store, out io.Writer) error {
	if c.Clear {
		n, err := st.ClearRecords()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d records\n", n)
		return nil
	}

	records, err := st.ListRecords(c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeBody(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no saved predictions")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOIL\tSEASON\tYIELD t/ha\tNPK kg/ha\tSUCROSE %\tCRS %")
	for _, r := range records {
		npk := "-"
		if len(r.Prediction.TopNpk) > 0 {
			top := r.Prediction.TopNpk[0]
			npk = fmt.Sprintf("%d/%d/%d", top.N, top.P, top.K)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%.2f\t%.2f\n",
			r.ID, r.Input.SoilType, r.Input.Season, r.Prediction.PredictedYield, npk,
			r.Prediction.Sucrose, r.Prediction.CRS)
	}
	return tw.Flush()
}
