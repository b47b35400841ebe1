// Package aggregator turns minute buckets drained from the Sessions
// Manager into persisted dimension rows, on a wall-clock-aligned timer.
package aggregator

import (
	"time"

	"github.com/streamstats/engine/internal/sessions"
)

const secondsPerMinute = 60
const globalKey = "global"

// DimensionRow is one (minute, dimension value) row ready to persist.
type DimensionRow struct {
	Minute           time.Time
	SessionsStarted  int64
	SessionsClosed   int64
	TotalBytes       int64
	BandwidthBps     int64
	WatchTimeSeconds int64
	UniqueUsers      int64
	PeakConcurrent   int
}

// MinuteRows holds the built rows for all six dimensions for one minute.
type MinuteRows struct {
	Minute           time.Time
	Global           DimensionRow
	ByServer         map[string]DimensionRow
	ByChannel        map[string]DimensionRow
	ByCountry        map[string]DimensionRow
	ByProtocol       map[string]DimensionRow
	ByUserAgentClass map[string]DimensionRow
}

// BuildRows turns one rotated minute bucket into rows across all six
// dimensions. A dimension value that saw no events this minute but still
// has a live session gets a row with peak_concurrent equal to its live
// count, so dashboards show a flat line instead of a gap (spec.md §4.3).
func BuildRows(minute time.Time, rotated sessions.RotatedBucket) MinuteRows {
	return MinuteRows{
		Minute:           minute,
		Global:           buildRow(minute, rotated, sessions.DimGlobal, globalKey),
		ByServer:         buildBreakdown(minute, rotated, sessions.DimServer),
		ByChannel:        buildBreakdown(minute, rotated, sessions.DimChannel),
		ByCountry:        buildBreakdown(minute, rotated, sessions.DimCountry),
		ByProtocol:       buildBreakdown(minute, rotated, sessions.DimProtocol),
		ByUserAgentClass: buildBreakdown(minute, rotated, sessions.DimUserAgentClass),
	}
}

func buildBreakdown(minute time.Time, rotated sessions.RotatedBucket, dim sessions.Dim) map[string]DimensionRow {
	keys := make(map[string]struct{})
	for _, k := range rotated.Bucket.Keys(dim) {
		keys[k] = struct{}{}
	}
	for k := range rotated.LiveCounts[dim] {
		keys[k] = struct{}{}
	}
	out := make(map[string]DimensionRow, len(keys))
	for k := range keys {
		out[k] = buildRow(minute, rotated, dim, k)
	}
	return out
}

func buildRow(minute time.Time, rotated sessions.RotatedBucket, dim sessions.Dim, key string) DimensionRow {
	row := rotated.Bucket.Row(dim, key)
	peak := row.PeakConcurrent
	if live := rotated.LiveCounts[dim][key]; live > peak {
		peak = live
	}
	return DimensionRow{
		Minute:           minute,
		SessionsStarted:  row.SessionsStarted,
		SessionsClosed:   row.SessionsClosed,
		TotalBytes:       row.TotalBytes,
		BandwidthBps:     row.TotalBytes / secondsPerMinute,
		WatchTimeSeconds: row.WatchTimeSeconds,
		UniqueUsers:      int64(row.UniqueUsers),
		PeakConcurrent:   peak,
	}
}
