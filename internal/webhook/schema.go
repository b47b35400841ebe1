// Package webhook implements the intake HTTP boundary: schema validation
// and translation from the wire JSON shape into sessions.Event values.
package webhook

import (
	"fmt"
	"time"

	"github.com/streamstats/engine/internal/sessions"
)

// rawEvent is the wire shape of one webhook event (spec.md §6). Unknown
// fields are ignored by encoding/json by default.
type rawEvent struct {
	Time      string `json:"time"`
	Event     string `json:"event"`
	ID        string `json:"id"`
	Server    string `json:"server"`
	Media     string `json:"media"`
	UserID    string `json:"user_id"`
	IP        string `json:"ip"`
	Country   string `json:"country"`
	Proto     string `json:"proto"`
	Bytes     int64  `json:"bytes"`
	UserAgent string `json:"user_agent"`
	OpenedAt  int64  `json:"opened_at"`
	ClosedAt  int64  `json:"closed_at"`
	Reason    string `json:"reason"`
}

// ValidationError describes why one event failed schema validation.
type ValidationError struct {
	Index int
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %d: %s", e.Index, e.Msg)
}

// parse validates one rawEvent against spec.md §6's required-field list
// and converts it into a sessions.Event. A schema-invalid event aborts
// the whole batch with a 400, per spec.md §4.5 — it never reaches the
// Sessions Manager.
func parse(index int, r rawEvent) (sessions.Event, error) {
	if r.Event != "play_started" && r.Event != "play_closed" {
		return sessions.Event{}, &ValidationError{index, fmt.Sprintf("event must be play_started or play_closed, got %q", r.Event)}
	}
	if r.ID == "" {
		return sessions.Event{}, &ValidationError{index, "id is required"}
	}
	if r.Server == "" {
		return sessions.Event{}, &ValidationError{index, "server is required"}
	}
	if r.Media == "" {
		return sessions.Event{}, &ValidationError{index, "media is required"}
	}
	if r.UserID == "" {
		return sessions.Event{}, &ValidationError{index, "user_id is required"}
	}
	if r.IP == "" {
		return sessions.Event{}, &ValidationError{index, "ip is required"}
	}
	if r.Proto == "" {
		return sessions.Event{}, &ValidationError{index, "proto is required"}
	}
	if r.OpenedAt <= 0 {
		return sessions.Event{}, &ValidationError{index, "opened_at is required and must be a positive integer"}
	}
	if r.Event == "play_closed" {
		if r.ClosedAt <= 0 {
			return sessions.Event{}, &ValidationError{index, "closed_at is required for play_closed"}
		}
		if r.Reason == "" {
			return sessions.Event{}, &ValidationError{index, "reason is required for play_closed"}
		}
	}

	eventTime, err := parseTime(r.Time)
	if err != nil {
		return sessions.Event{}, &ValidationError{index, fmt.Sprintf("time must be RFC3339: %v", err)}
	}

	return sessions.Event{
		Time:       eventTime,
		Kind:       r.Event,
		ID:         r.ID,
		Server:     r.Server,
		Channel:    r.Media,
		UserID:     r.UserID,
		ClientIP:   r.IP,
		Country:    r.Country,
		Protocol:   r.Proto,
		Bytes:      r.Bytes,
		UserAgent:  r.UserAgent,
		OpenedAtMs: r.OpenedAt,
		ClosedAtMs: r.ClosedAt,
		Reason:     r.Reason,
	}, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	return time.Parse(time.RFC3339, value)
}

// ParseBatch validates an entire webhook batch. The first schema
// violation aborts the whole batch (spec.md §4.5: malformed JSON or
// schema-invalid events are rejected at the transport boundary, never
// reaching the manager).
func ParseBatch(raw []rawEvent) ([]sessions.Event, error) {
	out := make([]sessions.Event, 0, len(raw))
	for i, r := range raw {
		ev, err := parse(i, r)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
