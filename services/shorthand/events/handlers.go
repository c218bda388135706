// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
)

// LoggingHandler creates a handler that logs events.
//
// Inputs:
//
//	logger - The slog logger to use.
//	level - The log level for events.
//
// Outputs:
//
//	Handler - A handler function that logs events.
func LoggingHandler(logger *slog.Logger, level slog.Level) Handler {
	return func(event *Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.Time("timestamp", event.Timestamp),
		}
		if event.CycleID != "" {
			attrs = append(attrs, slog.String("cycle_id", event.CycleID))
		}

		switch data := event.Data.(type) {
		case *CycleStartedData:
			attrs = append(attrs, slog.String("topic", data.Topic))

		case *CycleCompletedData:
			attrs = append(attrs,
				slog.Int("approved", data.Session.CandidatesApproved),
				slog.Int("tokens_saved", data.Session.TokensSaved),
				slog.Duration("duration", data.Duration),
			)

		case *StageCompletedData:
			attrs = append(attrs,
				slog.String("stage", data.Stage.String()),
				slog.Int("output_count", data.OutputCount),
				slog.Duration("duration", data.Duration),
				slog.Bool("degraded", data.Degraded),
			)

		case *CandidateData:
			attrs = append(attrs,
				slog.String("original", data.Candidate.Original),
				slog.String("compressed", data.Candidate.Compressed),
				slog.Int("savings", data.Candidate.TokenSavings),
			)
			if data.Candidate.RejectionReason != "" {
				attrs = append(attrs, slog.String("reason", data.Candidate.RejectionReason))
			}

		case *CeremonyData:
			attrs = append(attrs,
				slog.Int("approved_count", data.Summary.ApprovedCount),
				slog.Int("total_savings", data.Summary.TotalSavings),
			)

		case *ErrorData:
			attrs = append(attrs,
				slog.String("error", data.Error),
				slog.String("category", data.Category.String()),
				slog.Bool("recoverable", data.Recoverable),
			)
			if data.Stage != "" {
				attrs = append(attrs, slog.String("stage", data.Stage.String()))
			}
		}

		logger.Log(nil, level, "pipeline event", attrs...)
	}
}

// ChannelHandler creates a handler that sends events to a channel.
//
// Inputs:
//
//	ch - The channel to send events to.
//	dropOnFull - If true, drops events when the channel is full; if
//	false, blocks.
//
// Outputs:
//
//	Handler - A handler function that sends events to the channel.
func ChannelHandler(ch chan<- Event, dropOnFull bool) Handler {
	return func(event *Event) {
		if dropOnFull {
			select {
			case ch <- *event:
			default:
				// Channel full, drop event
			}
		} else {
			ch <- *event
		}
	}
}

// MultiHandler creates a handler that calls multiple handlers in order.
func MultiHandler(handlers ...Handler) Handler {
	return func(event *Event) {
		for _, h := range handlers {
			h(event)
		}
	}
}

// FilteredHandler creates a handler that only processes events matching
// a filter.
func FilteredHandler(handler Handler, filter Filter) Handler {
	return func(event *Event) {
		if filter(event) {
			handler(event)
		}
	}
}

// TypeFilter creates a filter that matches specific event types.
func TypeFilter(types ...Type) Filter {
	typeSet := make(map[Type]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event *Event) bool {
		return typeSet[event.Type]
	}
}

// CycleFilter creates a filter that matches a specific cycle.
func CycleFilter(cycleID string) Filter {
	return func(event *Event) bool {
		return event.CycleID == cycleID
	}
}

// VerdictFilter creates a filter that only passes terminal candidate
// events.
func VerdictFilter() Filter {
	return TypeFilter(TypeCandidateApproved, TypeCandidateRejected)
}
