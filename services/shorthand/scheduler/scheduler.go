// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler drives the pipeline cycle and the hourly ceremony.
//
// The scheduler is a wall-clock state machine:
//
//	Idle -> Discovering -> Generating -> Validating -> Idle
//
// with one special gate: the first tick at or after the ceremony minute
// runs the aggregate ceremony instead of a cycle, and later ticks in the
// same hour are no-ops until the hour rolls over. At most one cycle runs
// at a time; an overlapping trigger is dropped, never queued. Stage
// panics are isolated: a panicking stage yields its deterministic
// fallback payload and the cycle continues.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/broadcast"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/discovery"
	"github.com/isorabins/ai-shorthand/services/shorthand/events"
	"github.com/isorabins/ai-shorthand/services/shorthand/generation"
	"github.com/isorabins/ai-shorthand/services/shorthand/storage"
	"github.com/isorabins/ai-shorthand/services/shorthand/telemetry"
	"github.com/isorabins/ai-shorthand/services/shorthand/validation"
)

// State is the scheduler's observable state.
type State string

const (
	// StateIdle means no cycle is in flight.
	StateIdle State = "idle"

	// StateDiscovering means the discovery stage is running.
	StateDiscovering State = "discovering"

	// StateGenerating means the generation stage is running.
	StateGenerating State = "generating"

	// StateValidating means the validation stage is running.
	StateValidating State = "validating"

	// StateCeremony means the aggregate ceremony is running.
	StateCeremony State = "ceremony"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}

// ErrCycleInFlight means a trigger arrived while a cycle was running.
// The trigger is dropped, not queued.
var ErrCycleInFlight = errors.New("scheduler: cycle already in flight")

// Clock supplies wall time. Injected so tests can steer the ceremony
// gate.
type Clock func() time.Time

// Options tune the scheduler.
type Options struct {
	// CycleInterval is the gap between cycle triggers. Default: 2m.
	CycleInterval time.Duration

	// CeremonyMinute is the minute-of-hour at/after which triggers run
	// the ceremony. Default: 55.
	CeremonyMinute int

	// StageTimeout bounds each stage including collaborator calls.
	// Default: 60s.
	StageTimeout time.Duration

	// Topics rotate as discovery subjects.
	Topics []string

	// Clock overrides wall time. Nil uses time.Now.
	Clock Clock
}

func (o *Options) applyDefaults() {
	if o.CycleInterval <= 0 {
		o.CycleInterval = 2 * time.Minute
	}
	if o.CeremonyMinute <= 0 {
		o.CeremonyMinute = 55
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 60 * time.Second
	}
	if len(o.Topics) == 0 {
		o.Topics = []string{"technology", "business", "science"}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Scheduler runs cycles and ceremonies over the pipeline stages.
//
// Thread Safety: Scheduler is safe for concurrent use; concurrent
// triggers collapse to one running cycle.
type Scheduler struct {
	discoverer *discovery.Discoverer
	generator  *generation.Generator
	validator  *validation.Validator
	store      storage.Store
	codex      codex.Codex
	poster     broadcast.Poster
	emitter    *events.Emitter
	logger     *slog.Logger
	opts       Options

	busy  atomic.Bool
	state atomic.Value // State

	mu            sync.Mutex
	topicIdx      int
	sinceCeremony []shorthand.CompressionCandidate
	lastCeremony  time.Time
}

// New creates a Scheduler.
//
// Inputs:
//
//	disc, gen, val - The three pipeline stages. Required.
//	store - Candidate and session persistence. Required.
//	cdx - Codex, for the size gauge. Required.
//	poster - Ceremony broadcast. Nil disables broadcast.
//	emitter - Event emitter. Nil disables events.
//	logger - Destination for scheduler logs. Nil uses slog.Default().
//	opts - Scheduler options; zero values take defaults.
func New(
	disc *discovery.Discoverer,
	gen *generation.Generator,
	val *validation.Validator,
	store storage.Store,
	cdx codex.Codex,
	poster broadcast.Poster,
	emitter *events.Emitter,
	logger *slog.Logger,
	opts Options,
) *Scheduler {
	if poster == nil {
		poster = broadcast.Noop{}
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	s := &Scheduler{
		discoverer: disc,
		generator:  gen,
		validator:  val,
		store:      store,
		codex:      cdx,
		poster:     poster,
		emitter:    emitter,
		logger:     logger,
		opts:       opts,
	}
	s.state.Store(StateIdle)
	return s
}

// State returns the current observable state.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// Emitter returns the scheduler's event emitter for observers.
func (s *Scheduler) Emitter() *events.Emitter {
	return s.emitter
}

// Run triggers cycles on the configured interval until ctx is canceled.
// Between ticks it drains the store's insert notifications onto the
// event stream, so observers see external submissions as they land
// rather than when the next cycle judges them.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CycleInterval)
	defer ticker.Stop()
	watch := s.store.Watch()

	s.logger.Info("scheduler running",
		"cycle_interval", s.opts.CycleInterval,
		"ceremony_minute", s.opts.CeremonyMinute)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "reason", ctx.Err())
			return
		case sc := <-watch:
			s.emitter.Emit(events.TypeCandidateSubmitted,
				&events.CandidateData{Candidate: sc.CompressionCandidate})
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) {
				s.logger.Warn("tick degraded", "error", err)
			}
		}
	}
}

// Tick runs one trigger: a ceremony when the ceremony gate is open,
// otherwise a cycle. The ceremony runs once per hour: after it has
// completed, further ticks inside the same hour's window are no-ops.
// Exported so tests and the HTTP boundary can drive the scheduler
// without the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.opts.Clock()
	if now.Minute() >= s.opts.CeremonyMinute {
		if s.ceremonyHeld(now) {
			return nil
		}
		_, err := s.RunCeremony(ctx)
		return err
	}
	_, err := s.RunCycle(ctx)
	return err
}

// ceremonyHeld reports whether a ceremony already completed in now's
// hour.
func (s *Scheduler) ceremonyHeld(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastCeremony.IsZero() &&
		s.lastCeremony.Truncate(time.Hour).Equal(now.Truncate(time.Hour))
}

// -----------------------------------------------------------------------------
// Cycle
// -----------------------------------------------------------------------------

// RunCycle executes one discovery/generation/validation cycle.
//
// Returns ErrCycleInFlight when another cycle or ceremony holds the
// guard. Stage failures degrade rather than abort: the session always
// completes and is persisted.
func (s *Scheduler) RunCycle(ctx context.Context) (shorthand.CycleSession, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return shorthand.CycleSession{}, ErrCycleInFlight
	}
	defer s.busy.Store(false)
	defer s.state.Store(StateIdle)

	ctx, span := otel.Tracer("shorthand").Start(ctx, "scheduler.RunCycle")
	defer span.End()

	session := shorthand.CycleSession{
		ID:        uuid.NewString(),
		StartedAt: s.opts.Clock(),
	}
	span.SetAttributes(attribute.String("cycle_id", session.ID))
	s.emitter.SetCycleID(session.ID)

	topic := s.nextTopic()
	s.emitter.Emit(events.TypeCycleStarted, &events.CycleStartedData{Topic: topic})
	s.logger.Info("cycle started", "cycle_id", session.ID, "topic", topic)

	// Discovery.
	s.state.Store(StateDiscovering)
	words, degraded := s.runDiscovery(ctx, topic)
	session.WordsDiscovered = len(words)

	// Generation.
	s.state.Store(StateGenerating)
	candidates := s.runGeneration(ctx, words)
	session.CandidatesGenerated = len(candidates)

	// Validation, external submissions first.
	s.state.Store(StateValidating)
	result := s.runValidation(ctx, candidates)
	session.CandidatesApproved = len(result.Approved)
	session.TokensSaved = result.TokensSaved

	s.mu.Lock()
	s.sinceCeremony = append(s.sinceCeremony, result.Approved...)
	s.mu.Unlock()

	session.EndedAt = s.opts.Clock()
	if err := s.store.SaveSession(session); err != nil {
		s.logger.Error("session not persisted", "cycle_id", session.ID, "error", err)
	}

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	telemetry.RecordCycle(outcome)
	telemetry.SetCodexSize(s.codex.Len())

	s.emitter.Emit(events.TypeCycleCompleted, &events.CycleCompletedData{
		Session:  session,
		Duration: session.EndedAt.Sub(session.StartedAt),
	})
	s.emitter.SetCycleID("")
	s.logger.Info("cycle completed",
		"cycle_id", session.ID,
		"words", session.WordsDiscovered,
		"candidates", session.CandidatesGenerated,
		"approved", session.CandidatesApproved,
		"tokens_saved", session.TokensSaved)

	return session, nil
}

// runDiscovery runs the discovery stage with panic isolation. On panic
// the stage yields the fixed fallback word list.
func (s *Scheduler) runDiscovery(ctx context.Context, topic string) (words []shorthand.DiscoveredWord, degraded bool) {
	start := s.opts.Clock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("discovery panicked, using fallback words", "panic", r)
			words = fallbackWords()
			degraded = true
			s.emitter.Emit(events.TypeError, &events.ErrorData{
				Error:       fmt.Sprint(r),
				Category:    shorthand.CategoryUnknown,
				Stage:       shorthand.StageDiscovery,
				Recoverable: true,
			})
		}
		telemetry.RecordStage(shorthand.StageDiscovery, s.opts.Clock().Sub(start))
		s.emitter.Emit(events.TypeStageCompleted, &events.StageCompletedData{
			Stage:       shorthand.StageDiscovery,
			OutputCount: len(words),
			Duration:    s.opts.Clock().Sub(start),
			Degraded:    degraded,
		})
	}()

	stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	words, err := s.discoverer.Run(stageCtx, topic)
	if err != nil {
		degraded = true
		s.emitter.Emit(events.TypeError, &events.ErrorData{
			Error:       err.Error(),
			Category:    shorthand.CategoryOf(err),
			Stage:       shorthand.StageDiscovery,
			Recoverable: true,
		})
	}
	return words, degraded
}

// runGeneration runs the generation stage with panic isolation. On
// panic the stage yields no candidates.
func (s *Scheduler) runGeneration(ctx context.Context, words []shorthand.DiscoveredWord) (out []shorthand.CompressionCandidate) {
	start := s.opts.Clock()
	degraded := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("generation panicked, cycle continues with no candidates", "panic", r)
			out = nil
			degraded = true
			s.emitter.Emit(events.TypeError, &events.ErrorData{
				Error:       fmt.Sprint(r),
				Category:    shorthand.CategoryUnknown,
				Stage:       shorthand.StageGeneration,
				Recoverable: true,
			})
		}
		telemetry.RecordStage(shorthand.StageGeneration, s.opts.Clock().Sub(start))
		s.emitter.Emit(events.TypeStageCompleted, &events.StageCompletedData{
			Stage:       shorthand.StageGeneration,
			OutputCount: len(out),
			Duration:    s.opts.Clock().Sub(start),
			Degraded:    degraded,
		})
	}()

	stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	return s.generator.Run(stageCtx, words)
}

// runValidation validates pending external submissions ahead of the
// cycle's own candidates, with panic isolation: on panic every verdict
// already reached stands and the rest stay pending.
func (s *Scheduler) runValidation(ctx context.Context, generated []shorthand.CompressionCandidate) (result validation.Result) {
	start := s.opts.Clock()
	degraded := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("validation panicked, partial verdicts stand", "panic", r)
			degraded = true
			s.emitter.Emit(events.TypeError, &events.ErrorData{
				Error:       fmt.Sprint(r),
				Category:    shorthand.CategoryUnknown,
				Stage:       shorthand.StageValidation,
				Recoverable: true,
			})
		}
		telemetry.RecordStage(shorthand.StageValidation, s.opts.Clock().Sub(start))
		s.emitter.Emit(events.TypeStageCompleted, &events.StageCompletedData{
			Stage:       shorthand.StageValidation,
			OutputCount: len(result.Approved) + len(result.Rejected),
			Duration:    s.opts.Clock().Sub(start),
			Degraded:    degraded,
		})
	}()

	stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	// External submissions take the front of the queue.
	pending, err := s.store.ListPending(0)
	if err != nil {
		s.logger.Warn("pending submissions unavailable this cycle", "error", err)
	}
	storedID := make(map[string]string, len(pending))
	batch := make([]shorthand.CompressionCandidate, 0, len(pending)+len(generated))
	for _, sc := range pending {
		storedID[sc.Original+"\x00"+sc.Compressed] = sc.ID
		batch = append(batch, sc.CompressionCandidate)
	}
	batch = append(batch, generated...)

	result, err = s.validator.Run(stageCtx, batch)
	if err != nil {
		degraded = true
		s.emitter.Emit(events.TypeError, &events.ErrorData{
			Error:       err.Error(),
			Category:    shorthand.CategoryOf(err),
			Stage:       shorthand.StageValidation,
			Recoverable: true,
		})
	}

	for _, cand := range result.Approved {
		s.persistVerdict(storedID, cand)
		telemetry.RecordVerdict(cand)
		s.emitter.Emit(events.TypeCandidateApproved, &events.CandidateData{Candidate: cand})
	}
	for _, cand := range result.Rejected {
		s.persistVerdict(storedID, cand)
		telemetry.RecordVerdict(cand)
		s.emitter.Emit(events.TypeCandidateRejected, &events.CandidateData{Candidate: cand})
	}
	return result
}

// persistVerdict updates an externally stored candidate in place, or
// inserts a cycle-generated one in its terminal state.
func (s *Scheduler) persistVerdict(storedID map[string]string, cand shorthand.CompressionCandidate) {
	if id, ok := storedID[cand.Original+"\x00"+cand.Compressed]; ok {
		if err := s.store.UpdateCandidate(id, cand); err != nil {
			s.logger.Error("verdict not persisted", "id", id, "error", err)
		}
		return
	}
	if _, err := s.store.InsertCandidate(cand); err != nil {
		s.logger.Error("verdict not persisted", "original", cand.Original, "error", err)
	}
}

// nextTopic rotates through the configured topics.
func (s *Scheduler) nextTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic := s.opts.Topics[s.topicIdx%len(s.opts.Topics)]
	s.topicIdx++
	return topic
}

// fallbackWords is the deterministic discovery payload after a stage
// panic.
func fallbackWords() []shorthand.DiscoveredWord {
	words := make([]shorthand.DiscoveredWord, 0, len(discovery.FallbackWords))
	for _, w := range discovery.FallbackWords {
		words = append(words, shorthand.DiscoveredWord{
			Word:                 w,
			TokenCount:           2,
			Frequency:            1,
			CompressionPotential: 1,
		})
	}
	shorthand.SortDiscoveredWords(words)
	return words
}

// -----------------------------------------------------------------------------
// Ceremony
// -----------------------------------------------------------------------------

// RunCeremony validates any queued external submissions, rolls up every
// approval since the previous ceremony, broadcasts the summary, and
// resets the rollup.
//
// Returns ErrCycleInFlight when a cycle holds the guard. Broadcast is
// fire-and-forget: its failure never fails the ceremony.
func (s *Scheduler) RunCeremony(ctx context.Context) (shorthand.CeremonySummary, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return shorthand.CeremonySummary{}, ErrCycleInFlight
	}
	defer s.busy.Store(false)
	defer s.state.Store(StateIdle)

	ctx, span := otel.Tracer("shorthand").Start(ctx, "scheduler.RunCeremony")
	defer span.End()

	s.state.Store(StateCeremony)
	s.logger.Info("ceremony started")

	// Late submissions still get judged before the rollup.
	result := s.runValidation(ctx, nil)

	s.mu.Lock()
	approved := append(s.sinceCeremony, result.Approved...)
	s.sinceCeremony = nil
	s.lastCeremony = s.opts.Clock()
	s.mu.Unlock()

	summary := shorthand.CeremonySummary{ApprovedCount: len(approved)}
	for i, cand := range approved {
		summary.TotalSavings += cand.TokenSavings
		if summary.FeaturedCandidate == nil || cand.TokenSavings > summary.FeaturedCandidate.TokenSavings {
			summary.FeaturedCandidate = &approved[i]
		}
	}

	go func() {
		postCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.poster.Post(postCtx, summary); err != nil {
			s.logger.Warn("ceremony broadcast dropped",
				"category", shorthand.CategoryOf(err).String(), "error", err)
		}
	}()

	telemetry.RecordCeremony()
	s.emitter.Emit(events.TypeCeremonyCompleted, &events.CeremonyData{Summary: summary})
	span.SetAttributes(
		attribute.Int("approved", summary.ApprovedCount),
		attribute.Int("total_savings", summary.TotalSavings),
	)
	s.logger.Info("ceremony completed",
		"approved", summary.ApprovedCount, "total_savings", summary.TotalSavings)

	return summary, nil
}
