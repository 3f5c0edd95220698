package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptotrader/pkg/utils"
)

// ops.go - служебный HTTP-сервер: метрики и health-check.
// Поднимается только при заданном app.metrics_addr.

// opsShutdownTimeout - потолок ожидания graceful shutdown
const opsShutdownTimeout = 5 * time.Second

type opsServer struct {
	server *http.Server
	logger *utils.Logger
}

func newOpsServer(addr string, logger *utils.Logger) *opsServer {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &opsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("ops"),
	}
}

// Start запускает сервер в фоне
func (s *opsServer) Start() {
	s.logger.Infof("ops server listening on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("ops server: %v", err)
		}
	}()
}

// Stop гасит сервер, дожидаясь активных запросов
func (s *opsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warnf("ops server shutdown: %v", err)
	}
}
