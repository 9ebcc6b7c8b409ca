// Package handler serves the liveness probe.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthResponse is the body of every probe response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewRouter builds the probe router. The handler never consults worker state.
func NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(RecoveryMiddleware, LoggingMiddleware)
	router.HandleFunc("/", HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/health", HealthCheck).Methods(http.MethodGet)
	return router
}

// HealthCheck always reports healthy
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Service: "agent"}); err != nil {
		logger.Base().Warn("Failed to write health response", zap.Error(err))
	}
}

// Server runs the probe on a port
type Server struct {
	server *http.Server
}

// NewServer creates a probe server listening on port
func NewServer(port string) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", port),
			Handler:      NewRouter(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting health server", zap.String("addr", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down health server: %w", err)
	}
	logger.Base().Info("Health server stopped")
	return nil
}
