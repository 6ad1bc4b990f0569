package session

import "time"

// debouncer runs only the last triggered func after a quiet interval. It is
// used from the owning goroutine only.
type debouncer struct {
	delay time.Duration
	timer *time.Timer
}

// trigger supersedes any pending func. It reports false when delay is zero
// and the caller should run fn inline.
func (d *debouncer) trigger(fn func()) bool {
	d.stop()
	if d.delay <= 0 {
		return false
	}
	d.timer = time.AfterFunc(d.delay, fn)
	return true
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
