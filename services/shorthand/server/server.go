// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server is the HTTP boundary: external submissions in, codex
// and pipeline observability out.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
	"github.com/isorabins/ai-shorthand/services/shorthand/scheduler"
	"github.com/isorabins/ai-shorthand/services/shorthand/storage"
)

// Server wires the HTTP routes over the pipeline components.
type Server struct {
	addr      string
	scheduler *scheduler.Scheduler
	store     storage.Store
	codex     codex.Codex
	patterns  patterns.Store
	logger    *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// New creates a Server. logger nil uses slog.Default().
func New(
	addr string,
	sched *scheduler.Scheduler,
	store storage.Store,
	cdx codex.Codex,
	pstore patterns.Store,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      addr,
		scheduler: sched,
		store:     store,
		codex:     cdx,
		patterns:  pstore,
		logger:    logger,
	}
	s.engine = s.buildRouter()
	return s
}

// Router returns the gin engine. Exposed for httptest.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/events", s.handleEventsWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/candidates", s.handleSubmitCandidate)
		v1.GET("/codex", s.handleGetCodex)
		v1.GET("/patterns", s.handleGetPatterns)
		v1.GET("/status", s.handleStatus)
		v1.GET("/sessions", s.handleSessions)
		v1.POST("/cycle", s.handleTriggerCycle)
	}
	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
