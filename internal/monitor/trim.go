package monitor

import "github.com/tuanbt/logscope/internal/eventlog"

// Prepend places live records, delivered oldest first, at the front of list
// so the newest leads, then trims to limit. limit <= 0 disables the cap.
func Prepend(list []eventlog.Record, limit int, live ...eventlog.Record) []eventlog.Record {
	out := make([]eventlog.Record, 0, len(list)+len(live))
	for i := len(live) - 1; i >= 0; i-- {
		out = append(out, live[i])
	}
	out = append(out, list...)
	return Trim(out, limit)
}

// Trim drops records from the tail, the oldest end, beyond limit.
func Trim(list []eventlog.Record, limit int) []eventlog.Record {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	return list[:limit:limit]
}
