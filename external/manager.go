// Package external implements the External Cache Manager (spec §4.3):
// the peer-learned view of ct/exp entries, with a two-tier fast/slow
// promotion scheme for long-lived ct flows. Grounded on the teacher's
// cache.go processItems loop (one goroutine owning all mutation) and
// slru.go's probation/protected split, generalized here from a fixed
// two-segment LFU policy to an age-driven fast→slow promotion.
package external

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/ctdsync/core/clock"
	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/kernelapi"
	"github.com/ctdsync/core/store"
	"github.com/ctdsync/core/tunables"
)

// maxRetry caps the delete-then-retry loop spec §9 asks for, guarding
// against livelock on a pathologically repeated AlreadyPresent failure.
const maxRetry = 2

// Manager owns the three external CacheStores and the two GC cursors.
// Not safe for concurrent use; spec §5 mandates a single-threaded
// event loop serializing every call.
type Manager struct {
	fast *store.CacheStore
	slow *store.CacheStore
	exp  *store.CacheStore

	fastCursor store.Cursor
	slowCursor store.Cursor

	tun tunables.Tunables
	ct  kernelapi.CtClient
	ex  kernelapi.ExpClient

	promotions      int64
	slowExpirations int64
	clashes         int64
}

// New creates an empty Manager. ct/ex may be nil if this manager never
// commits (e.g. a test double that only exercises event paths).
func New(tun tunables.Tunables, ct kernelapi.CtClient, ex kernelapi.ExpClient) *Manager {
	return &Manager{
		fast: store.New("external-fast-ct", 0),
		slow: store.New("external-slow-ct", 0),
		exp:  store.New("external-exp", 0),
		tun:  tun,
		ct:   ct,
		ex:   ex,
	}
}

// CtNew handles a peer announcement of a new connection (spec §4.3).
func (m *Manager) CtNew(owner entity.Owner, p *entity.CTPayload, now clock.Seconds) error {
	for attempt := 0; ; attempt++ {
		if obj, ok := m.slow.FindPayload(p); ok {
			// Present in slow: treat as corrupt/stale.
			m.clashes++
			m.slow.Delete(obj)
		} else if obj, ok := m.fast.FindPayload(p); ok {
			// Idempotent re-announce.
			m.clashes++
			m.fast.Delete(obj)
		} else {
			obj := entity.NewCacheObject(p, owner, now)
			if err := m.fast.Insert(obj); err != nil {
				if errors.Is(err, store.ErrAlreadyPresent) && attempt < maxRetry {
					continue
				}
				return err
			}
			return nil
		}
		if attempt >= maxRetry {
			return errors.Errorf("external: ct_new retry limit exceeded for key %x", p.HashKey())
		}
	}
}

// CtUpd handles a peer update of an existing or unknown connection.
func (m *Manager) CtUpd(owner entity.Owner, p *entity.CTPayload, now clock.Seconds) {
	if obj, ok := m.slow.FindPayload(p); ok {
		m.slow.Update(obj, p, now)
		return
	}
	m.fast.UpdateForce(p, owner, now)
}

// CtDel applies the ownership gate (spec §4.3, §7, §8): only the peer
// that authored an entry may retract it. Deletes from whichever tier
// the object was actually found in (spec §9's documented bug fix).
func (m *Manager) CtDel(peer entity.Owner, p *entity.CTPayload) (accepted bool, err error) {
	if obj, ok := m.fast.FindPayload(p); ok {
		if obj.Owner != peer {
			return false, nil
		}
		m.fast.Delete(obj)
		return true, nil
	}
	if obj, ok := m.slow.FindPayload(p); ok {
		if obj.Owner != peer {
			return false, nil
		}
		m.slow.Delete(obj)
		return true, nil
	}
	return false, nil
}

// FastGCStep runs one bounded fast-tier scan (spec §4.3). Entries that
// age past PromotionAge migrate to slow; DEAD entries are reclaimed.
func (m *Manager) FastGCStep(now clock.Seconds) int {
	var promoted []*entity.CacheObject
	cursor, visited := m.fast.IterateLimit(m.fastCursor, m.tun.FastScanBatch, func(obj *entity.CacheObject) {
		switch {
		case obj.Status == entity.StatusDead:
			m.fast.Delete(obj)
		case now.Sub(obj.Lifetime) > m.tun.PromotionAge:
			m.fast.Delete(obj)
			promoted = append(promoted, obj)
		}
	})
	if visited == m.tun.FastScanBatch {
		m.fastCursor = cursor
	} else {
		m.fastCursor = store.Cursor{}
	}
	for _, obj := range promoted {
		if err := m.slow.Insert(obj); err == nil {
			m.promotions++
		}
	}
	return visited
}

// SlowGCStep runs one bounded slow-tier scan (spec §4.3): entries idle
// past SlowIdleExpiry are reclaimed.
func (m *Manager) SlowGCStep(now clock.Seconds) int {
	cursor, visited := m.slow.IterateLimit(m.slowCursor, m.tun.SlowScanBatch, func(obj *entity.CacheObject) {
		if now.Sub(obj.LastUpdate) > m.tun.SlowIdleExpiry {
			m.slow.Delete(obj)
			m.slowExpirations++
		}
	})
	if visited == m.tun.SlowScanBatch {
		m.slowCursor = cursor
	} else {
		m.slowCursor = store.Cursor{}
	}
	return visited
}

// ExpNew, ExpUpd, ExpDel are the single-store, idempotent exp
// operations (spec §4.3: "no tiering").
func (m *Manager) ExpNew(owner entity.Owner, p *entity.ExpPayload, now clock.Seconds) {
	m.exp.UpdateForce(p, owner, now)
}

func (m *Manager) ExpUpd(owner entity.Owner, p *entity.ExpPayload, now clock.Seconds) {
	m.exp.UpdateForce(p, owner, now)
}

// ExpDel returns true iff an entry was actually removed (spec §9's
// documented open question; this module adopts that policy).
func (m *Manager) ExpDel(p *entity.ExpPayload) (removed bool) {
	obj, ok := m.exp.FindPayload(p)
	if !ok {
		return false
	}
	m.exp.Delete(obj)
	return true
}

// Dump writes the fast ct tier, the slow ct tier, and the exp store, in
// that order, one line per entry. No tier labels are written; Stats is
// the method that labels the tiers.
func (m *Manager) Dump(w io.Writer, filter func(*entity.CacheObject) bool) {
	m.fast.Dump(w, filter)
	m.slow.Dump(w, filter)
	m.exp.Dump(w, filter)
}

// Stats emits the fast tier as "New:" and the slow tier as "Old:"
// (spec §4.3).
func (m *Manager) Stats(w io.Writer) {
	m.fast.Stats(w, "New:")
	m.slow.Stats(w, "Old:")
	m.exp.Stats(w, "Exp:")
}

// StatsExt is the operator control socket's stats_ext verb (spec §6):
// richer per-store age/idle diagnostics plus a cross-store invariant
// check (spec §4.1, §8's "Uniqueness" property) across the three
// stores this manager owns.
func (m *Manager) StatsExt(w io.Writer, now clock.Seconds) {
	m.fast.StatsExtended(w, "New:", now)
	m.slow.StatsExtended(w, "Old:", now)
	m.exp.StatsExtended(w, "Exp:", now)
	for _, clash := range m.CheckInvariant() {
		fmt.Fprintf(w, "invariant violation: key=%x same-payload=%t\n", clash.Key, clash.SamePayload)
	}
}

// CheckInvariant runs spec §4.1's cross-store uniqueness invariant
// against this manager's three stores, returning every violation
// found. Cheap enough to run from the control socket on demand; not
// invoked automatically on every event.
func (m *Manager) CheckInvariant() []store.Clash {
	var out []store.Clash
	out = append(out, m.fast.ClashesWith(m.slow)...)
	out = append(out, m.fast.ClashesWith(m.exp)...)
	out = append(out, m.slow.ClashesWith(m.exp)...)
	return out
}

// Flush clears every tier and the exp store.
func (m *Manager) Flush() {
	m.fast.Flush()
	m.slow.Flush()
	m.exp.Flush()
	m.fastCursor = store.Cursor{}
	m.slowCursor = store.Cursor{}
}

// Commit pushes every ALIVE entry in every store to the kernel,
// aggregating the bitmask result (spec §7).
func (m *Manager) Commit(ctx context.Context) (store.CommitResult, error) {
	var result store.CommitResult
	var firstErr error

	commitCt := func(ctx context.Context, p entity.Payload) error {
		return m.ct.Commit(ctx, p.(*entity.CTPayload))
	}
	commitExp := func(ctx context.Context, p entity.Payload) error {
		return m.ex.Commit(ctx, p.(*entity.ExpPayload))
	}

	for _, step := range []struct {
		s  *store.CacheStore
		fn func(context.Context, entity.Payload) error
	}{
		{m.fast, commitCt},
		{m.slow, commitCt},
		{m.exp, commitExp},
	} {
		r, err := step.s.Commit(ctx, step.fn)
		result |= r
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return result, firstErr
}

// Promotions, SlowExpirations, and Clashes expose the supplemented
// diagnostic counters SPEC_FULL.md adds (diagstats consumes these).
func (m *Manager) Promotions() int64      { return m.promotions }
func (m *Manager) SlowExpirations() int64 { return m.slowExpirations }
func (m *Manager) Clashes() int64         { return m.clashes }

// FastLen, SlowLen, ExpLen expose tier sizes for diagnostics and tests.
func (m *Manager) FastLen() int { return m.fast.Len() }
func (m *Manager) SlowLen() int { return m.slow.Len() }
func (m *Manager) ExpLen() int  { return m.exp.Len() }

var _ dispatch.Inbound = (*inboundAdapter)(nil)

// inboundAdapter adapts Manager's owner-first methods to
// dispatch.Inbound's peer-first signature, keeping Manager's own API
// symmetric with CtNew/CtUpd's owner-as-first-arg shape used by tests
// that drive it directly without a transport.
type inboundAdapter struct {
	m   *Manager
	now clock.Source
}

// AsInbound wraps m so it can be handed directly to a transport
// expecting dispatch.Inbound.
func AsInbound(m *Manager, now clock.Source) dispatch.Inbound {
	return &inboundAdapter{m: m, now: now}
}

func (a *inboundAdapter) CtNew(peer dispatch.PeerID, p *entity.CTPayload) error {
	return a.m.CtNew(entity.Owner(peer), p, a.now())
}

func (a *inboundAdapter) CtUpd(peer dispatch.PeerID, p *entity.CTPayload) error {
	a.m.CtUpd(entity.Owner(peer), p, a.now())
	return nil
}

func (a *inboundAdapter) CtDel(peer dispatch.PeerID, p *entity.CTPayload) (bool, error) {
	return a.m.CtDel(entity.Owner(peer), p)
}

func (a *inboundAdapter) ExpNew(peer dispatch.PeerID, p *entity.ExpPayload) error {
	a.m.ExpNew(entity.Owner(peer), p, a.now())
	return nil
}

func (a *inboundAdapter) ExpUpd(peer dispatch.PeerID, p *entity.ExpPayload) error {
	a.m.ExpUpd(entity.Owner(peer), p, a.now())
	return nil
}

func (a *inboundAdapter) ExpDel(peer dispatch.PeerID, p *entity.ExpPayload) (bool, error) {
	return a.m.ExpDel(p), nil
}
