// Package clock provides the single monotonic integer-second clock the
// core caches use for lifetime/lastupdate comparisons.
package clock

// Seconds is a monotonic timestamp, in whole seconds, measured from an
// arbitrary epoch fixed at process start. Only differences between two
// Seconds values are meaningful.
type Seconds int64

// Source returns the current monotonic time. Callers are expected to
// call it once per event-loop tick and reuse the result, not once per
// cache operation.
type Source func() Seconds

// Now returns the platform clock source (see clock_linux.go and
// clock_default.go).
func Now() Seconds {
	return now()
}

// Sub returns a-b as a plain int64 difference, in seconds.
func (a Seconds) Sub(b Seconds) int64 {
	return int64(a) - int64(b)
}

// Add returns a advanced by d seconds.
func (a Seconds) Add(d int64) Seconds {
	return a + Seconds(d)
}
