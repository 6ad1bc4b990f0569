package session

import (
	"github.com/tuanbt/logscope/internal/counting"
	"github.com/tuanbt/logscope/internal/eventlog"
)

// Msg is a value posted by background work for the owning goroutine to pass
// to Controller.Apply.
type Msg interface{}

// PageLoadedMsg carries the result of a page fetch.
type PageLoadedMsg struct {
	Gen     uint64
	Request eventlog.PageRequest
	Result  eventlog.PageResult
	Err     error
}

// CountProgressMsg carries one counting notification.
type CountProgressMsg struct {
	Gen      uint64
	Progress counting.Progress
}

// LiveRecordMsg carries one record from the monitor subscription.
type LiveRecordMsg struct {
	Gen    uint64
	Record eventlog.Record
}

// MonitorEndedMsg reports that the subscription feed has closed.
type MonitorEndedMsg struct {
	Gen uint64
	Err error
}

// MonitorRestartMsg fires after the restart cooldown.
type MonitorRestartMsg struct {
	Gen uint64
}

// SearchMsg is the debounced search text.
type SearchMsg struct {
	Gen  uint64
	Text string
}

// MonitorStateMsg is a lifecycle notification: monitoring started or stopped.
type MonitorStateMsg struct {
	Channel string
	Active  bool
	// Restart is the restart attempt number, zero for an operator toggle.
	Restart int
	Err     error
}

// CountStateMsg is a lifecycle notification: counting started or stopped.
type CountStateMsg struct {
	Channel string
	Active  bool
	Count   CountInfo
}
