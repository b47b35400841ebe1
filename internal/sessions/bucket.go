package sessions

// counters accumulates one dimension value's stats within one minute
// bucket.
type counters struct {
	sessionsStarted  int64
	sessionsClosed   int64
	totalBytes       int64
	watchTimeSeconds int64
	uniqueUsers      *userSet
	peakConcurrent   int
}

func newCounters() *counters {
	return &counters{uniqueUsers: newUserSet()}
}

// MinuteBucket is the accumulator for one in-progress minute, organized
// as dimension -> dimension value -> counters. The Aggregator drains and
// discards it once a minute on rotation.
type MinuteBucket struct {
	values map[Dim]map[string]*counters
}

func newMinuteBucket() *MinuteBucket {
	b := &MinuteBucket{values: make(map[Dim]map[string]*counters, len(AllDimensions))}
	for _, d := range AllDimensions {
		b.values[d] = make(map[string]*counters)
	}
	return b
}

// get returns the counters for (dim, key), creating them on first touch.
func (b *MinuteBucket) get(dim Dim, key string) *counters {
	m := b.values[dim]
	c, ok := m[key]
	if !ok {
		c = newCounters()
		m[key] = c
	}
	return c
}

// Keys returns the dimension values that saw at least one event this
// minute for dim.
func (b *MinuteBucket) Keys(dim Dim) []string {
	m := b.values[dim]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Row is a read-only view of one dimension value's accumulated stats,
// used by the Aggregator to build persisted rows.
type Row struct {
	SessionsStarted  int64
	SessionsClosed   int64
	TotalBytes       int64
	WatchTimeSeconds int64
	UniqueUsers      uint64
	PeakConcurrent   int
}

// Row returns a snapshot of (dim, key)'s counters, or a zero Row if the
// key saw no events this minute.
func (b *MinuteBucket) Row(dim Dim, key string) Row {
	c, ok := b.values[dim][key]
	if !ok {
		return Row{}
	}
	return Row{
		SessionsStarted:  c.sessionsStarted,
		SessionsClosed:   c.sessionsClosed,
		TotalBytes:       c.totalBytes,
		WatchTimeSeconds: c.watchTimeSeconds,
		UniqueUsers:      c.uniqueUsers.Count(),
		PeakConcurrent:   c.peakConcurrent,
	}
}
