package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/canecast/internal/advisor"
	"github.com/lox/canecast/internal/predict"
	"github.com/lox/canecast/internal/store"
)

// maxBodyBytes caps request payloads. A prediction record is a few KB.
const maxBodyBytes = 1 << 20

type Server struct {
	predictor *predict.Predictor
	store     *store.Store
	advisor   *advisor.Advisor
	port      string
	started   time.Time
}

func NewServer(p *predict.Predictor, st *store.Store, adv *advisor.Advisor, port string) *Server {
	if adv == nil {
		adv = advisor.New(nil)
	}
	return &Server{
		predictor: p,
		store:     st,
		advisor:   adv,
		port:      port,
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/model", s.handleModel)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("POST /api/history", s.handleSaveHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("GET /api/history/{id}/guide", s.handleGuide)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps err to its kind and status and writes the error body.
func writeError(w http.ResponseWriter, err error) {
	_, status, body := predict.Classify(err)
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, predict.ErrorBody{Error: msg, Kind: kind})
}
