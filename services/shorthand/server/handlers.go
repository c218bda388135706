// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/events"
	"github.com/isorabins/ai-shorthand/services/shorthand/scheduler"
)

// submitRequest is the external submission payload.
type submitRequest struct {
	Original    string `json:"original" binding:"required"`
	Compressed  string `json:"compressed" binding:"required"`
	SubmitterID string `json:"submitter_id" binding:"required"`
}

// handleSubmitCandidate accepts an external candidate. The candidate is
// stored pending; the next cycle's validation judges it ahead of the
// cycle's own candidates, and the store's insert notification carries
// it onto the event stream.
func (s *Server) handleSubmitCandidate(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cand := shorthand.NewHumanCandidate(req.Original, req.Compressed, req.SubmitterID)
	if err := cand.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.store.InsertCandidate(cand)
	if err != nil {
		s.logger.Error("submission not stored", "original", cand.Original, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission not stored"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": cand.Status})
}

// handleGetCodex returns every active codex entry.
func (s *Server) handleGetCodex(c *gin.Context) {
	entries := s.codex.All()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// handleGetPatterns returns the per-pattern learning statistics.
func (s *Server) handleGetPatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.patterns.All()})
}

// handleStatus reports scheduler state and codex size.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":        s.scheduler.State().String(),
		"codex_size":   s.codex.Len(),
		"generated_at": time.Now().UTC(),
	})
}

// handleSessions returns recent cycle sessions, newest first.
func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.store.RecentSessions(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sessions unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleTriggerCycle starts a cycle out of schedule. Returns 409 when
// one is already in flight.
func (s *Server) handleTriggerCycle(c *gin.Context) {
	if s.scheduler.State() != scheduler.StateIdle {
		c.JSON(http.StatusConflict, gin.H{"error": "cycle already in flight"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.scheduler.RunCycle(ctx); err != nil {
			s.logger.Warn("triggered cycle degraded", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "cycle started"})
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleEventsWS streams pipeline events over a websocket. Slow clients
// miss events rather than stalling the pipeline.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 256)
	subID := s.scheduler.Emitter().Subscribe(events.ChannelHandler(ch, true))
	defer s.scheduler.Emitter().Unsubscribe(subID)

	// Reader goroutine: we only care about the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
