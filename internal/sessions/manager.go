package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/streamstats/engine/internal/classifier"
)

// ErrAlreadyRestored is returned by Restore if it is called more than
// once; recovery only runs once, at startup, before intake is enabled.
var ErrAlreadyRestored = errors.New("sessions: restore called more than once")

// MetricsSink receives counters the Manager cannot own itself without
// creating an import cycle with internal/metrics.
type MetricsSink interface {
	IncRejection(kind string)
	IncStale()
	IncDeltaOverflow(count int)
}

type noopSink struct{}

func (noopSink) IncRejection(string) {}
func (noopSink) IncStale()           {}
func (noopSink) IncDeltaOverflow(int) {}

// Manager owns the live-session table and the current minute bucket as a
// single synchronized unit: every mutation happens under one mutex, and
// the critical section never does I/O (spec.md §5). Expensive work
// (store writes) happens after RotateMinute hands a drained snapshot to
// the caller, outside the lock.
type Manager struct {
	mu sync.Mutex

	live      map[string]*Session
	liveCount map[Dim]map[string]int

	bucket *MinuteBucket

	deltaRing []Delta
	deltaCap  int
	deltaHead int
	deltaSize int
	dropped   int

	restored bool

	classify func(string) classifier.Class
	now      func() time.Time

	metrics MetricsSink
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMetrics routes rejection/stale/overflow counts to sink instead of
// discarding them.
func WithMetrics(sink MetricsSink) Option {
	return func(m *Manager) { m.metrics = sink }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithClassifier overrides user-agent classification, e.g. to inject a
// caching wrapper.
func WithClassifier(classify func(string) classifier.Class) Option {
	return func(m *Manager) { m.classify = classify }
}

// NewManager creates a Manager with an empty live table. deltaBufferSize
// bounds the intra-minute delta queue; 0 means unbounded.
func NewManager(deltaBufferSize int, opts ...Option) *Manager {
	m := &Manager{
		live:      make(map[string]*Session),
		liveCount: newLiveCountTable(),
		bucket:    newMinuteBucket(),
		deltaCap:  deltaBufferSize,
		classify:  classifier.Classify,
		now:       time.Now,
		metrics:   noopSink{},
	}
	if deltaBufferSize > 0 {
		m.deltaRing = make([]Delta, deltaBufferSize)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newLiveCountTable() map[Dim]map[string]int {
	t := make(map[Dim]map[string]int, len(AllDimensions))
	for _, d := range AllDimensions {
		t[d] = make(map[string]int)
	}
	return t
}

// Ingest applies one validated event to the live table and current
// bucket. It never blocks on I/O.
func (m *Manager) Ingest(e Event) IngestResult {
	switch e.Kind {
	case "play_started":
		return m.ingestOpened(e)
	case "play_closed":
		return m.ingestClosed(e)
	default:
		return IngestResult{Accepted: false, Rejection: RejectionMalformedTime}
	}
}

func (m *Manager) ingestOpened(e Event) IngestResult {
	if e.OpenedAtMs <= 0 {
		m.metrics.IncRejection(string(RejectionMalformedTime))
		return IngestResult{Accepted: false, Rejection: RejectionMalformedTime}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live[e.ID]; exists {
		m.metrics.IncRejection(string(RejectionDuplicateOpen))
		return IngestResult{Accepted: false, Rejection: RejectionDuplicateOpen}
	}

	openedAt := time.UnixMilli(e.OpenedAtMs).UTC()
	session := &Session{
		ID:             e.ID,
		Server:         e.Server,
		Channel:        e.Channel,
		Country:        e.Country,
		Protocol:       e.Protocol,
		UserAgentRaw:   e.UserAgent,
		UserAgentClass: m.classify(e.UserAgent),
		UserID:         e.UserID,
		ClientIP:       e.ClientIP,
		OpenedAt:       openedAt,
		LastSeenAt:     openedAt,
		Bytes:          e.Bytes,
	}
	m.live[session.ID] = session

	keys := dimensionKeys(session)
	for dim, key := range keys {
		m.liveCount[dim][key]++
		c := m.bucket.get(dim, key)
		c.sessionsStarted++
		c.uniqueUsers.Add(session.UserID)
		if live := m.liveCount[dim][key]; live > c.peakConcurrent {
			c.peakConcurrent = live
		}
	}

	m.appendDelta(Delta{
		Kind:           DeltaOpened,
		Server:         session.Server,
		Channel:        session.Channel,
		Country:        session.Country,
		Protocol:       session.Protocol,
		UserAgentClass: session.UserAgentClass,
		UserID:         session.UserID,
		At:             m.now(),
	})

	return IngestResult{Accepted: true, Stale: m.isStale(e.Time)}
}

func (m *Manager) ingestClosed(e Event) IngestResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.live[e.ID]
	if !exists {
		// unknown_close is discarded entirely: no delta, no bucket
		// mutation, concurrency untouched (spec.md §4.2).
		m.metrics.IncRejection(string(RejectionUnknownClose))
		return IngestResult{Accepted: false, Rejection: RejectionUnknownClose}
	}

	watchSeconds := int64(0)
	if e.ClosedAtMs > 0 {
		watchMs := e.ClosedAtMs - session.OpenedAt.UnixMilli()
		if watchMs < 0 {
			watchMs = 0
		}
		watchSeconds = watchMs / 1000
	}

	bytesDelta := e.Bytes - session.Bytes
	if bytesDelta < 0 {
		bytesDelta = 0
	}
	session.CloseReason = e.Reason

	delete(m.live, session.ID)

	keys := dimensionKeys(session)
	for dim, key := range keys {
		if m.liveCount[dim][key] > 0 {
			m.liveCount[dim][key]--
		}
		c := m.bucket.get(dim, key)
		c.sessionsClosed++
		c.totalBytes += bytesDelta
		c.watchTimeSeconds += watchSeconds
		c.uniqueUsers.Add(session.UserID)
	}

	m.appendDelta(Delta{
		Kind:           DeltaClosed,
		Server:         session.Server,
		Channel:        session.Channel,
		Country:        session.Country,
		Protocol:       session.Protocol,
		UserAgentClass: session.UserAgentClass,
		UserID:         session.UserID,
		BytesDelta:     bytesDelta,
		WatchSeconds:   watchSeconds,
		At:             m.now(),
	})

	return IngestResult{Accepted: true, Stale: m.isStale(e.Time)}
}

// isStale flags an event whose own timestamp is more than a full minute
// behind the current minute boundary. Staleness never prevents
// processing; it is informational only.
func (m *Manager) isStale(eventTime time.Time) bool {
	if eventTime.IsZero() {
		return false
	}
	currentMinute := m.now().Truncate(time.Minute)
	stale := currentMinute.Sub(eventTime) > time.Minute
	if stale {
		m.metrics.IncStale()
	}
	return stale
}

// appendDelta pushes d onto the bounded ring buffer, dropping the oldest
// entry and counting the drop if the buffer is full.
func (m *Manager) appendDelta(d Delta) {
	if m.deltaCap == 0 {
		m.deltaRing = append(m.deltaRing, d)
		m.deltaSize++
		return
	}
	if m.deltaSize < m.deltaCap {
		m.deltaRing[(m.deltaHead+m.deltaSize)%m.deltaCap] = d
		m.deltaSize++
		return
	}
	m.deltaRing[m.deltaHead] = d
	m.deltaHead = (m.deltaHead + 1) % m.deltaCap
	m.dropped++
	m.metrics.IncDeltaOverflow(1)
}

// SnapshotLive returns a copy of every currently live session, for
// periodic durability snapshots. Safe to call concurrently with Ingest.
func (m *Manager) SnapshotLive() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, *s)
	}
	return out
}

// Restore seeds the live table from a prior snapshot. It may be called
// exactly once, before intake is enabled, as part of startup recovery
// (spec.md §4.4).
func (m *Manager) Restore(sessions []Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restored {
		return ErrAlreadyRestored
	}
	m.restored = true

	for i := range sessions {
		cp := sessions[i]
		m.live[cp.ID] = &cp
		keys := dimensionKeys(&cp)
		for dim, key := range keys {
			m.liveCount[dim][key]++
		}
	}

	// Rehydrated sessions contribute to peak_concurrent for the minute
	// they're restored into even though they generate no sessions_started
	// delta this minute.
	for dim, counts := range m.liveCount {
		for key, live := range counts {
			c := m.bucket.get(dim, key)
			if live > c.peakConcurrent {
				c.peakConcurrent = live
			}
		}
	}

	return nil
}

// RotatedBucket is the drained state handed to the Aggregator once a
// minute. LiveCounts lets the Aggregator give still-live-but-quiet
// dimension values a row with peak_concurrent equal to their live count,
// even though the bucket itself recorded no events for them.
type RotatedBucket struct {
	Bucket        *MinuteBucket
	Deltas        []Delta
	DroppedDeltas int
	LiveCounts    map[Dim]map[string]int
}

// RotateMinute atomically swaps in a fresh bucket and hands back the
// drained one along with the delta queue and a live-count snapshot. It
// is the only place the current minute boundary advances.
func (m *Manager) RotateMinute() RotatedBucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.bucket
	m.bucket = newMinuteBucket()

	deltas := m.drainDeltasLocked()
	dropped := m.dropped
	m.dropped = 0

	liveSnapshot := make(map[Dim]map[string]int, len(m.liveCount))
	for dim, counts := range m.liveCount {
		cp := make(map[string]int, len(counts))
		for k, v := range counts {
			cp[k] = v
			// Sessions still live at the boundary are live at the start
			// of the new minute, so they count toward its peak even if
			// they close before the next rotation.
			if v > 0 {
				m.bucket.get(dim, k).peakConcurrent = v
			}
		}
		liveSnapshot[dim] = cp
	}

	return RotatedBucket{Bucket: old, Deltas: deltas, DroppedDeltas: dropped, LiveCounts: liveSnapshot}
}

func (m *Manager) drainDeltasLocked() []Delta {
	out := make([]Delta, m.deltaSize)
	if m.deltaCap == 0 {
		copy(out, m.deltaRing)
	} else {
		for i := 0; i < m.deltaSize; i++ {
			out[i] = m.deltaRing[(m.deltaHead+i)%m.deltaCap]
		}
	}
	m.deltaHead = 0
	m.deltaSize = 0
	if m.deltaCap == 0 {
		m.deltaRing = nil
	}
	return out
}

// LiveCount returns the current number of live sessions for a dimension
// value, for the /stats/active endpoint.
func (m *Manager) LiveCount(dim Dim, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveCount[dim][key]
}

// LiveTotals returns the full live-count table for a dimension, for
// /stats/active.
func (m *Manager) LiveTotals(dim Dim) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.liveCount[dim]))
	for k, v := range m.liveCount[dim] {
		out[k] = v
	}
	return out
}

// Total returns the current count of globally live sessions.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
