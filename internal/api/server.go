// Package api exposes a minimal operational endpoint for the worker:
// liveness and a status snapshot. The administrative front end (record
// browsing, statistics, login) lives elsewhere and is deliberately not
// served here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ipsix/avsentry/internal/config"
	"github.com/ipsix/avsentry/internal/consumer"
	"github.com/ipsix/avsentry/internal/records"
)

type Status struct {
	Engine    string           `json:"engine"`
	Version   string           `json:"version"`
	Workers   int              `json:"workers"`
	UptimeSec int64            `json:"uptime_seconds"`
	Consumer  consumer.Metrics `json:"consumer"`
	Scans     records.Stats    `json:"scans"`
}

type Server struct {
	cfg    config.APIConfig
	logger *zap.SugaredLogger
	status func() Status
	server *http.Server
}

func New(cfg config.APIConfig, logger *zap.SugaredLogger, status func() Status) *Server {
	return &Server{cfg: cfg, logger: logger, status: status}
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infow("api server starting", "addr", s.cfg.BindAddr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withAuth(s.handleHealth))
	mux.HandleFunc("/status", s.withAuth(s.handleStatus))
	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Infow("api server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if s.cfg.AuthToken == "" || token != s.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.status())
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
