// Package sessions implements the Active Sessions Manager: the in-memory
// state machine that owns session lifecycle, deduplication, and recovery,
// and the per-minute accumulator the Aggregator drains.
package sessions

import (
	"time"

	"github.com/streamstats/engine/internal/classifier"
)

// Dim identifies one of the six aggregation dimensions.
type Dim string

const (
	DimGlobal         Dim = "global"
	DimServer         Dim = "server"
	DimChannel        Dim = "channel"
	DimCountry        Dim = "country"
	DimProtocol       Dim = "protocol"
	DimUserAgentClass Dim = "user_agent_class"

	globalKey = "global"
)

// AllDimensions lists the six dimensions in the fixed order the Aggregator
// builds rows in.
var AllDimensions = []Dim{DimGlobal, DimServer, DimChannel, DimCountry, DimProtocol, DimUserAgentClass}

// Session represents one viewer-channel engagement.
type Session struct {
	ID             string
	Server         string
	Channel        string
	Country        string
	Protocol       string
	UserAgentRaw   string
	UserAgentClass classifier.Class
	UserID         string
	ClientIP       string
	OpenedAt       time.Time
	LastSeenAt     time.Time
	Bytes          int64
	CloseReason    string
}

// dimensionKeys returns the six dimension values for a session, keyed by
// dimension name. The global dimension always uses a fixed key since it
// has exactly one bucket.
func dimensionKeys(s *Session) map[Dim]string {
	return map[Dim]string{
		DimGlobal:         globalKey,
		DimServer:         s.Server,
		DimChannel:        s.Channel,
		DimCountry:        s.Country,
		DimProtocol:       s.Protocol,
		DimUserAgentClass: string(s.UserAgentClass),
	}
}

// DeltaKind is the event kind a Delta derives from.
type DeltaKind string

const (
	DeltaOpened DeltaKind = "opened"
	DeltaClosed DeltaKind = "closed"
)

// Delta is an append-only event derivative produced by the Manager and
// consumed by the Aggregator.
type Delta struct {
	Kind           DeltaKind
	Server         string
	Channel        string
	Country        string
	Protocol       string
	UserAgentClass classifier.Class
	UserID         string
	BytesDelta     int64
	WatchSeconds   int64
	At             time.Time
}

// RejectionKind identifies why Ingest refused an event.
type RejectionKind string

const (
	RejectionDuplicateOpen RejectionKind = "duplicate_open"
	RejectionUnknownClose  RejectionKind = "unknown_close"
	RejectionMalformedTime RejectionKind = "malformed_time"
)

// Event is a validated webhook event ready for ingestion. Schema
// validation (required fields, types) happens at the transport boundary
// before an Event reaches the Manager.
type Event struct {
	Time       time.Time // the event's own `time` field, used only for the stale check
	Kind       string    // "play_started" or "play_closed"
	ID         string
	Server     string
	Channel    string
	UserID     string
	ClientIP   string
	Country    string
	Protocol   string
	Bytes      int64
	UserAgent  string
	OpenedAtMs int64
	ClosedAtMs int64 // play_closed only
	Reason     string
}

// IngestResult reports the outcome of Ingest. Stale can be true alongside
// Accepted: a stale event is still processed into the current minute
// (spec.md §4.2's minute-of-arrival policy), it is merely flagged.
type IngestResult struct {
	Accepted  bool
	Rejection RejectionKind
	Stale     bool
}
