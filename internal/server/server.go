// Package server exposes the console over a local JSON API so a presentation
// layer can drive retrains and predictions, read and clear the histories, and
// follow history changes over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"segmentation-console/internal/console"
	"segmentation-console/internal/gateway"
	"segmentation-console/internal/storage"
	"segmentation-console/internal/validate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves the console JSON API, the history feed, health and metrics.
type Server struct {
	svc    *console.Service
	feed   *Feed
	server *http.Server
}

type retrainRequest struct {
	NClusters *float64 `json:"n_clusters"`
}

type predictRequest struct {
	AnnualIncome  *float64 `json:"annual_income"`
	SpendingScore *float64 `json:"spending_score"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New routes the API on addr. feed may be nil to disable /ws/history;
// gatherer backs /metrics.
func New(svc *console.Service, feed *Feed, addr string, gatherer prometheus.Gatherer) *Server {
	s := &Server{svc: svc, feed: feed}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrain", s.handleRetrain)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/history/retrain", s.handleRetrainHistory)
	mux.HandleFunc("DELETE /api/history/retrain", s.handleClearRetrain)
	mux.HandleFunc("GET /api/history/predictions", s.handlePredictionHistory)
	mux.HandleFunc("DELETE /api/history/predictions", s.handleClearPredictions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if feed != nil {
		mux.Handle("GET /ws/history", feed)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until Shutdown; it returns http.ErrServerClosed then.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting console server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, disconnects feed subscribers and waits
// for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feed != nil {
		s.feed.Close()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.NClusters == nil {
		writeError(w, &validate.ValidationError{Field: "n_clusters", Reason: "value is required"})
		return
	}

	entry, err := s.svc.Retrain(r.Context(), *req.NClusters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.AnnualIncome == nil {
		writeError(w, &validate.ValidationError{Field: "annual_income", Reason: "value is required"})
		return
	}
	if req.SpendingScore == nil {
		writeError(w, &validate.ValidationError{Field: "spending_score", Reason: "value is required"})
		return
	}

	entry, err := s.svc.Predict(r.Context(), *req.AnnualIncome, *req.SpendingScore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRetrainHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.RetrainHistory())
}

func (s *Server) handlePredictionHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.PredictionHistory())
}

func (s *Server) handleClearRetrain(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearRetrainHistory(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearPredictions(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearPredictionHistory(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":             "ok",
		"retrain_entries":    len(s.svc.RetrainHistory()),
		"prediction_entries": len(s.svc.PredictionHistory()),
	}
	if s.feed != nil {
		health["feed_subscribers"] = s.feed.Subscribers()
	}
	writeJSON(w, http.StatusOK, health)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		verr *validate.ValidationError
		perr *storage.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
	case gateway.IsRequestFailure(err):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: perr.Error()})
	default:
		log.Error().Err(err).Msg("unexpected error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
