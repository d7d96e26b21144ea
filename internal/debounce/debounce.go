// Package debounce coalesces bursts of repository change events into a
// single callback.
package debounce

import (
	"sync"
	"time"
)

var afterFunc = time.AfterFunc

// Debouncer calls fn once the triggers stop for delay, with the number of
// triggers that burst coalesced.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func(n int)
	// gen is bumped on every Trigger and Stop; a timer callback only runs
	// fn when its generation is still current.
	gen     uint64
	pending int
}

func New(delay time.Duration, fn func(n int)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending++
	gen := d.gen
	d.timer = afterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	n := d.pending
	d.pending = 0
	fn := d.fn
	d.mu.Unlock()
	fn(n)
}

// Stop cancels a pending call and forgets the triggers counted so far.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.pending = 0
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
