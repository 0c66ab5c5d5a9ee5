// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
)

// APIServer accepts reconciliation requests over HTTP and runs them in the
// background. Run state is kept in the run history database.
type APIServer struct {
	cfg        *config.Config
	server     *http.Server
	taskStore  *taskstore.Store
	listenAddr string
	useTLS     bool
	jobCtx     context.Context
	jobCancel  context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg *config.Config) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	srvCfg := cfg.Server
	if srvCfg.ListenAddress == "" {
		srvCfg.ListenAddress = "127.0.0.1"
	}
	if srvCfg.ListenPort == 0 {
		return nil, fmt.Errorf("server.listen_port must be configured")
	}

	tlsConfig, err := buildTLSConfig(srvCfg)
	if err != nil {
		return nil, err
	}

	taskStore, err := taskstore.New(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise run history: %w", err)
	}

	apiServer := &APIServer{
		cfg:        cfg,
		taskStore:  taskStore,
		listenAddr: fmt.Sprintf("%s:%d", srvCfg.ListenAddress, srvCfg.ListenPort),
		useTLS:     tlsConfig != nil,
		jobCtx:     context.Background(),
	}

	apiServer.server = &http.Server{
		Addr:              apiServer.listenAddr,
		Handler:           apiServer.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return apiServer, nil
}

func buildTLSConfig(srv config.ServerConfig) (*tls.Config, error) {
	if srv.TLSCertFile == "" || srv.TLSKeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(srv.TLSCertFile, srv.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server TLS keypair: %w", err)
	}
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if srv.ClientCAFile != "" {
		pem, err := os.ReadFile(srv.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA file %s holds no certificates", srv.ClientCAFile)
		}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = pool
	}
	return tlsConfig, nil
}

// Handler returns the API routes.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/reconcile", s.handleReconcile)
	mux.HandleFunc("/api/v1/runs", s.handleRunList)
	mux.HandleFunc("/api/v1/runs/", s.handleRunStatus)
	return loggingMiddleware(mux)
}

func (s *APIServer) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return fmt.Errorf("api server is not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.jobCtx = runCtx
	s.jobCancel = cancel
	defer func() {
		cancel()
		s.wg.Wait()
		s.Close()
	}()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.useTLS {
			logger.Info("API server listening on https://%s", s.listenAddr)
			err = s.server.ListenAndServeTLS("", "")
		} else {
			logger.Info("API server listening on http://%s", s.listenAddr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the run history database.
func (s *APIServer) Close() {
	if s.taskStore == nil {
		return
	}
	if err := s.taskStore.Close(); err != nil {
		logger.Warn("failed to close run history: %v", err)
	}
	s.taskStore = nil
}

func (s *APIServer) enqueueTask(taskID string, run func(context.Context) error) error {
	if s == nil {
		return fmt.Errorf("api server unavailable")
	}
	if s.taskStore == nil {
		return fmt.Errorf("run history unavailable")
	}
	if s.jobCtx == nil {
		return fmt.Errorf("api server is not running")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(s.jobCtx)
		defer cancel()
		if err := run(ctx); err != nil {
			logger.Error("run %s failed: %v", taskID, err)
		}
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s completed in %s", r.Method, r.URL.Path, time.Since(start))
	})
}
