// Package diagstats formats one-line summaries of the managers' store
// sizes (synccore.Core.StatsExt does not call it), plus the
// supplemented Promotions/SlowExpirations/Clashes counters this module
// adds beyond spec.md (recovered from original_source/src's per-event
// log-counters). Grounded on the teacher's Metrics.String(), which
// walks a fixed set of named counters into one formatted line using
// go-humanize-style readable output.
package diagstats

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/ctdsync/core/external"
	"github.com/ctdsync/core/internalcache"
)

// ExternalSnapshot renders the External Cache Manager's tier sizes and
// supplemented event counters.
type ExternalSnapshot struct {
	FastEntries     int
	SlowEntries     int
	ExpEntries      int
	Promotions      int64
	SlowExpirations int64
	Clashes         int64
}

// SnapshotExternal captures m's current counters.
func SnapshotExternal(m *external.Manager) ExternalSnapshot {
	return ExternalSnapshot{
		FastEntries:     m.FastLen(),
		SlowEntries:     m.SlowLen(),
		ExpEntries:      m.ExpLen(),
		Promotions:      m.Promotions(),
		SlowExpirations: m.SlowExpirations(),
		Clashes:         m.Clashes(),
	}
}

// WriteTo writes a one-line human-readable summary to w.
func (s ExternalSnapshot) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"external: fast=%s slow=%s exp=%s promotions=%s slow-expirations=%s clashes=%s\n",
		humanize.Comma(int64(s.FastEntries)),
		humanize.Comma(int64(s.SlowEntries)),
		humanize.Comma(int64(s.ExpEntries)),
		humanize.Comma(s.Promotions),
		humanize.Comma(s.SlowExpirations),
		humanize.Comma(s.Clashes),
	)
	return int64(n), err
}

// InternalSnapshot renders the Internal Cache Manager's store sizes.
type InternalSnapshot struct {
	CtEntries  int
	ExpEntries int
}

// SnapshotInternal captures m's current counters.
func SnapshotInternal(m *internalcache.Manager) InternalSnapshot {
	return InternalSnapshot{
		CtEntries:  m.CtLen(),
		ExpEntries: m.ExpLen(),
	}
}

// WriteTo writes a one-line human-readable summary to w.
func (s InternalSnapshot) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "internal: ct=%s exp=%s\n",
		humanize.Comma(int64(s.CtEntries)),
		humanize.Comma(int64(s.ExpEntries)),
	)
	return int64(n), err
}
