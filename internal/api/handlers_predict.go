package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/predict"
	"github.com/lox/canecast/internal/yield"
)

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	start := time.Now()

	raw, err := decodeObject(w, r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, predict.KindValidation, err.Error())
		return
	}

	c, res, err := s.predictor.Predict(r.Context(), raw)
	if err != nil {
		kind, status, body := predict.Classify(err)
		log.Printf("api: predict %s -> %d %s in %s", reqID, status, kind, time.Since(start).Round(time.Millisecond))
		writeJSON(w, status, body)
		return
	}

	if saveRequested(r) {
		rec := models.PredictionRecord{ID: recordID(c), Input: c, Prediction: *res}
		if err := s.store.InsertRecord(rec); err != nil {
			log.Printf("api: predict %s save: %v", reqID, err)
			writeError(w, err)
			return
		}
		w.Header().Set("Location", "/api/history/"+url.PathEscape(rec.ID))
		w.Header().Set("X-Record-Id", rec.ID)
	}

	log.Printf("api: predict %s -> 200 in %s", reqID, time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, res)
}

type modelInfo struct {
	Kind         string              `json:"kind"`
	SoilTypes    []string            `json:"soilTypes"`
	Seasons      []string            `json:"seasons"`
	Grid         predict.Grid        `json:"grid"`
	TopK         int                 `json:"topK"`
	Workers      int                 `json:"workers"`
	Timeout      string              `json:"timeout"`
	Sensitivity  bool                `json:"sensitivity"`
	Reference    models.NPK          `json:"referenceNpk"`
	ModelMetrics models.ModelMetrics `json:"modelMetrics"`
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	cfg := s.predictor.Config()
	soils, seasons := s.predictor.Vocabulary()
	if soils == nil {
		soils = []string{}
	}
	if seasons == nil {
		seasons = []string{}
	}
	writeJSON(w, http.StatusOK, modelInfo{
		Kind:         yield.KindOf(s.predictor.Estimator()),
		SoilTypes:    soils,
		Seasons:      seasons,
		Grid:         cfg.Search.Grid,
		TopK:         cfg.Search.TopK,
		Workers:      cfg.Search.Workers,
		Timeout:      cfg.Timeout.String(),
		Sensitivity:  cfg.Sensitivity,
		Reference:    cfg.Reference,
		ModelMetrics: s.predictor.Metrics(),
	})
}

type HealthStatus struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Records int    `json:"records"`
	Uptime  string `json:"uptime"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status: "ok",
		Model:  yield.KindOf(s.predictor.Estimator()),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	n, err := s.store.CountRecords()
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, health)
		return
	}
	health.Records = n
	writeJSON(w, http.StatusOK, health)
}

// decodeObject reads a JSON object body, keeping numbers as json.Number so
// validation sees exactly what the client sent.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if raw == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return raw, nil
}

func saveRequested(r *http.Request) bool {
	switch r.URL.Query().Get("save") {
	case "1", "true", "yes":
		return true
	}
	return false
}

// recordID is the input timestamp when known, otherwise a random UUID.
func recordID(c models.FieldConditions) string {
	if c.CreatedAt.IsZero() {
		return uuid.NewString()
	}
	return c.CreatedAt.UTC().Format(time.RFC3339Nano)
}
