package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lox/canecast/internal/models"
	"github.com/lox/canecast/internal/predict"
)

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, predict.KindValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.store.ListRecords(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type historyRequest struct {
	ID         string                   `json:"id"`
	Input      map[string]any           `json:"input"`
	Prediction *models.PredictionResult `json:"prediction"`
}

func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, predict.KindValidation, "read body: "+err.Error())
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var req historyRequest
	if err := dec.Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, predict.KindValidation, "request body must be a prediction record")
		return
	}

	var missing []predict.FieldError
	if req.Input == nil {
		missing = append(missing, predict.FieldError{Field: "input", Reason: "is required"})
	}
	if req.Prediction == nil || len(req.Prediction.TopNpk) == 0 {
		missing = append(missing, predict.FieldError{Field: "prediction", Reason: "must include at least one NPK candidate"})
	}
	if len(missing) > 0 {
		writeError(w, &predict.ValidationError{Fields: missing})
		return
	}

	c, err := s.predictor.Validate(req.Input)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := models.PredictionRecord{ID: req.ID, Input: c, Prediction: *req.Prediction}
	if rec.ID == "" {
		rec.ID = recordID(c)
	}
	if err := s.store.InsertRecord(rec); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/history/"+url.PathEscape(rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearRecords()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := s.store.DeleteRecord(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "not_found", "no history record "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.advisor.Guide(r.Context(), *rec))
}

// lookup loads the record named by the {id} path segment, writing a 404 or
// 500 response when it cannot.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*models.PredictionRecord, bool) {
	id := r.PathValue("id")
	rec, err := s.store.GetRecord(id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if rec == nil {
		writeMessage(w, http.StatusNotFound, "not_found", "no history record "+id)
		return nil, false
	}
	return rec, true
}
