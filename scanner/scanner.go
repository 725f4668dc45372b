// Package scanner implements the Timed Scanner (spec §4.2): a
// single-shot-rearming alarm that drives periodic, bounded
// garbage-collection passes.
//
// Grounded on the teacher's cache.go, which drives its own periodic
// cleanup (bucketed TTL expiry) through a single select loop consuming
// cleanupTicker.C alongside the set-buffer channel and the stop
// channel. A stdlib time.Ticker is deliberately NOT used here: spec §5
// requires callbacks to re-arm themselves at the end of each
// invocation rather than fire on a fixed period, so that a slow pass
// never overlaps with the next tick. A time.Timer gives that
// single-shot semantic directly.
package scanner

import "time"

// Alarm is a single-shot timer that the owning event loop is
// responsible for both consuming (via C()) and re-arming (via Rearm())
// after running its callback. This keeps every invocation serialized
// through the caller's own event loop instead of spawning a goroutine
// per fire, matching spec §5's single-threaded cooperative model.
type Alarm struct {
	interval time.Duration
	timer    *time.Timer
}

// NewAlarm creates an Alarm armed for the first time after interval.
func NewAlarm(interval time.Duration) *Alarm {
	return &Alarm{
		interval: interval,
		timer:    time.NewTimer(interval),
	}
}

// C returns the channel that fires once per arming.
func (a *Alarm) C() <-chan time.Time {
	return a.timer.C
}

// Rearm schedules the next fire, interval from now. Callers invoke
// this at the end of their callback, not before it, so bounded work
// never overlaps with itself.
func (a *Alarm) Rearm() {
	a.timer.Reset(a.interval)
}

// Stop disarms the alarm. Safe to call more than once.
func (a *Alarm) Stop() {
	a.timer.Stop()
}
