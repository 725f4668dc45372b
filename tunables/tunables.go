// Package tunables holds the constants spec §6 asks implementations to
// expose as configuration, plus the two interval knobs (purge/resync)
// the source leaves to the surrounding daemon's config.
package tunables

import "time"

// Tunables bundles every constant that governs scan cadence, tiering,
// and resync sensitivity. Structured the same way the teacher's
// ristretto.Config bundles NumCounters/MaxCost/BufferItems: one struct
// with sane defaults an embedder can override field-by-field.
type Tunables struct {
	// FastScanInterval and SlowScanInterval drive the two external
	// cache GC alarms (spec §4.2).
	FastScanInterval time.Duration
	SlowScanInterval time.Duration

	// FastScanBatch and SlowScanBatch bound the number of entries
	// visited per GC tick (spec §5).
	FastScanBatch int
	SlowScanBatch int

	// PromotionAge is how long a fast-tier entry survives before
	// being promoted to the slow tier (spec §4.3).
	PromotionAge int64
	// SlowIdleExpiry is the slow-tier idle bound (spec §4.3).
	SlowIdleExpiry int64

	// ResyncStalenessFloor, ResyncTimeoutHeadroom, and
	// ResyncToleranceBand are the three resync skip gates (spec §4.4).
	ResyncStalenessFloor  int64
	ResyncTimeoutHeadroom int64
	ResyncToleranceBand   int64

	// PurgeInterval and ResyncInterval are not named constants in
	// spec §6 (the source leaves them to the surrounding daemon's
	// config); defaults below give this core a runnable cadence.
	PurgeInterval  time.Duration
	ResyncInterval time.Duration

	// PurgeBatch and ResyncBatch bound per-tick work the same way
	// FastScanBatch/SlowScanBatch do, generalizing spec §4.4's purge
	// and resync to the bounded-batch pattern §5 already requires of
	// GC (see SPEC_FULL.md's PurgeStep/ResyncStep expansion).
	PurgeBatch  int
	ResyncBatch int
}

// Default returns the tunables with every spec §6 value pre-filled.
func Default() Tunables {
	return Tunables{
		FastScanInterval:      15 * time.Second,
		SlowScanInterval:      30 * time.Second,
		FastScanBatch:         3000,
		SlowScanBatch:         3000,
		PromotionAge:          300,
		SlowIdleExpiry:        21600,
		ResyncStalenessFloor:  45,
		ResyncTimeoutHeadroom: 90,
		ResyncToleranceBand:   4,
		PurgeInterval:         60 * time.Second,
		ResyncInterval:        30 * time.Second,
		PurgeBatch:            3000,
		ResyncBatch:           3000,
	}
}
