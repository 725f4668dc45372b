// Package internalcache implements the Internal Cache Manager (spec
// §4.4): the locally-authoritative view of ct/exp entries, reacting to
// kernel events, publishing sync messages to peers, and running the
// periodic liveness purge and resync sweeps. Grounded on the teacher's
// cache.go processItems loop for the single-consumer shape, generalized
// here to kernel-event-driven mutation instead of a set-buffer channel.
package internalcache

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/ctdsync/core/clock"
	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/filter"
	"github.com/ctdsync/core/kernelapi"
	"github.com/ctdsync/core/store"
	"github.com/ctdsync/core/tunables"
	"github.com/ctdsync/core/wire"
)

// maxRetry caps the delete-then-retry loop for a stale duplicate on
// insert (spec §9), the same bound external.Manager uses.
const maxRetry = 2

// Manager owns the internal ct and exp CacheStores. Not safe for
// concurrent use: spec §5's single-threaded event loop serializes every
// call into this type.
type Manager struct {
	ct  *store.CacheStore
	exp *store.CacheStore

	tun        tunables.Tunables
	dispatcher dispatch.Dispatcher
	group      dispatch.PeerGroup
	ctFilter   filter.Ct

	ctClient  kernelapi.CtClient
	expClient kernelapi.ExpClient

	purgeCursor  store.Cursor
	resyncCursor int
	expCursor    int
}

// New creates an empty Manager. ctFilter may be nil, in which case
// filter.AcceptAllCt is used.
func New(tun tunables.Tunables, d dispatch.Dispatcher, group dispatch.PeerGroup, ctFilter filter.Ct, ctClient kernelapi.CtClient, expClient kernelapi.ExpClient) *Manager {
	if ctFilter == nil {
		ctFilter = filter.AcceptAllCt
	}
	return &Manager{
		ct:         store.New("internal-ct", 0),
		exp:        store.New("internal-exp", 0),
		tun:        tun,
		dispatcher: d,
		group:      group,
		ctFilter:   ctFilter,
		ctClient:   ctClient,
		expClient:  expClient,
	}
}

func (m *Manager) publish(kind wire.MessageKind, p entity.Payload) error {
	if m.dispatcher == nil {
		return nil
	}
	return m.dispatcher.Send(m.group, kind, p)
}

// EventNewCt handles a kernel ct_new event (spec §4.4).
func (m *Manager) EventNewCt(origin kernelapi.Origin, p *entity.CTPayload, now clock.Seconds) error {
	if origin == kernelapi.OriginInject {
		return nil
	}
	entity.NormalizeCT(p)
	for attempt := 0; ; attempt++ {
		if obj, ok := m.ct.FindPayload(p); ok {
			if attempt >= maxRetry {
				return errors.Errorf("internalcache: event_new retry limit exceeded for key %x", p.HashKey())
			}
			m.ct.Delete(obj)
			continue
		}
		obj := entity.NewCacheObject(p, entity.OwnerNone, now)
		if err := m.ct.Insert(obj); err != nil {
			if errors.Is(err, store.ErrAlreadyPresent) && attempt < maxRetry {
				continue
			}
			return err
		}
		if origin == kernelapi.OriginNotMe {
			return m.publish(wire.StateCtNew, p)
		}
		return nil
	}
}

// EventUpdCt handles a kernel ct_upd event.
func (m *Manager) EventUpdCt(origin kernelapi.Origin, p *entity.CTPayload, now clock.Seconds) error {
	if origin == kernelapi.OriginInject {
		return nil
	}
	entity.NormalizeCT(p)
	m.ct.UpdateForce(p, entity.OwnerNone, now)
	if origin == kernelapi.OriginNotMe {
		return m.publish(wire.StateCtUpd, p)
	}
	return nil
}

// EventDelCt handles a kernel ct_del event. Returns whether the
// deletion was actually applied (spec: "return 0" for INJECT/not-found).
func (m *Manager) EventDelCt(origin kernelapi.Origin, p *entity.CTPayload) (bool, error) {
	if origin == kernelapi.OriginInject {
		return false, nil
	}
	obj, ok := m.ct.FindPayload(p)
	if !ok {
		return false, nil
	}
	obj.Status = entity.StatusDead
	m.ct.Delete(obj)
	if origin == kernelapi.OriginNotMe {
		if err := m.publish(wire.StateCtDel, p); err != nil {
			return true, err
		}
	}
	return true, nil
}

// PopulateCt loads the initial kernel ct dump at startup (spec §4.4):
// no outbound messages, entries enter directly as ALIVE since they
// already represent confirmed kernel state needing no sync.
func (m *Manager) PopulateCt(entries []*entity.CTPayload, now clock.Seconds) {
	for _, p := range entries {
		entity.NormalizeCT(p)
		obj := m.ct.UpdateForce(p, entity.OwnerNone, now)
		obj.Status = entity.StatusAlive
	}
}

// PurgeStep runs one bounded liveness sweep over the internal ct store
// (spec §4.4): entries the kernel no longer has transition to DEAD and
// are reported once.
func (m *Manager) PurgeStep(ctx context.Context, limit int) (int, error) {
	var toReport []*entity.CTPayload
	cursor, visited := m.ct.IterateLimit(m.purgeCursor, limit, func(obj *entity.CacheObject) {
		p := obj.Payload.(*entity.CTPayload)
		found, err := m.ctClient.Get(ctx, p)
		if err != nil || !found {
			obj.Status = entity.StatusDead
			m.ct.Delete(obj)
			toReport = append(toReport, p)
		}
	})
	if visited == limit {
		m.purgeCursor = cursor
	} else {
		m.purgeCursor = store.Cursor{}
	}
	for _, p := range toReport {
		if err := m.publish(wire.StateCtDel, p); err != nil {
			return visited, err
		}
	}
	return visited, nil
}

// resyncOne applies the five-gate skip ladder and publish logic of
// spec §4.4 step 1-7 to a single incoming kernel entry.
func (m *Manager) resyncOne(incoming *entity.CTPayload, now clock.Seconds) error {
	if !m.ctFilter(incoming) {
		return nil
	}
	obj, ok := m.ct.FindPayload(incoming)
	if !ok || obj.Status == entity.StatusDead {
		return nil
	}
	if now.Sub(obj.LastUpdate) <= m.tun.ResyncStalenessFloor {
		return nil
	}
	stored := obj.Payload.(*entity.CTPayload)
	if !stored.TimeoutSet {
		// No TIMEOUT attribute on the entry we have cached: it
		// probably didn't come from us, so resync leaves it alone
		// entirely rather than falling through to the tolerance
		// check below with a zero timeout.
		return nil
	}
	if int64(now) < int64(obj.LastUpdate)+int64(stored.Timeout)-m.tun.ResyncTimeoutHeadroom {
		return nil
	}
	if incoming.TimeoutSet {
		diff := (int64(incoming.Timeout) + int64(now)) - (int64(obj.LastUpdate) + int64(stored.Timeout))
		if diff < 0 {
			diff = -diff
		}
		if diff < m.tun.ResyncToleranceBand {
			return nil
		}
	}
	entity.NormalizeCT(incoming)
	m.ct.Update(obj, incoming, now)

	if obj.Status == entity.StatusNew {
		if err := m.publish(wire.StateCtNew, obj.Payload); err != nil {
			return err
		}
		obj.Status = entity.StatusAlive
		return nil
	}
	lw, ok := wire.LightweightCTResync(incoming)
	if ok {
		return m.publish(wire.StateCtUpd, lw)
	}
	return m.publish(wire.StateCtUpd, incoming)
}

// ResyncStep processes up to ResyncBatch entries from the given kernel
// dump, resuming from where the previous call left off (spec §5's
// bounded-per-tick pattern, generalized to the resync sweep).
func (m *Manager) ResyncStep(entries []*entity.CTPayload, now clock.Seconds) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	start := m.resyncCursor
	if start >= len(entries) {
		start = 0
	}
	n := 0
	for i := start; i < len(entries) && n < m.tun.ResyncBatch; i++ {
		if err := m.resyncOne(entries[i], now); err != nil {
			return n, err
		}
		n++
	}
	next := start + n
	if next >= len(entries) {
		next = 0
	}
	m.resyncCursor = next
	return n, nil
}

// MasterExists tests whether the master ct of an expectation currently
// exists in the internal ct store (spec §4.4's "exp master-find").
func (m *Manager) MasterExists(master entity.Tuple) bool {
	obj, ok := m.ct.Find(master.HashKey())
	return ok && obj.Status != entity.StatusDead
}

// EventNewExp, EventUpdExp, EventDelExp mirror the ct event paths with
// INJECT suppression and NOT_ME-gated publication (spec §4.4).
func (m *Manager) EventNewExp(origin kernelapi.Origin, p *entity.ExpPayload, now clock.Seconds) error {
	if origin == kernelapi.OriginInject {
		return nil
	}
	for attempt := 0; ; attempt++ {
		if obj, ok := m.exp.FindPayload(p); ok {
			if attempt >= maxRetry {
				return errors.Errorf("internalcache: exp event_new retry limit exceeded for key %x", p.HashKey())
			}
			m.exp.Delete(obj)
			continue
		}
		obj := entity.NewCacheObject(p, entity.OwnerNone, now)
		if err := m.exp.Insert(obj); err != nil {
			if errors.Is(err, store.ErrAlreadyPresent) && attempt < maxRetry {
				continue
			}
			return err
		}
		if origin == kernelapi.OriginNotMe {
			return m.publish(wire.StateExpNew, p)
		}
		return nil
	}
}

func (m *Manager) EventUpdExp(origin kernelapi.Origin, p *entity.ExpPayload, now clock.Seconds) error {
	if origin == kernelapi.OriginInject {
		return nil
	}
	m.exp.UpdateForce(p, entity.OwnerNone, now)
	if origin == kernelapi.OriginNotMe {
		return m.publish(wire.StateExpUpd, p)
	}
	return nil
}

func (m *Manager) EventDelExp(origin kernelapi.Origin, p *entity.ExpPayload) (bool, error) {
	if origin == kernelapi.OriginInject {
		return false, nil
	}
	obj, ok := m.exp.FindPayload(p)
	if !ok {
		return false, nil
	}
	obj.Status = entity.StatusDead
	m.exp.Delete(obj)
	if origin == kernelapi.OriginNotMe {
		if err := m.publish(wire.StateExpDel, p); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ExpResyncStep is structurally similar to ResyncStep but simpler
// (spec §4.4): force-update, then publish STATE_EXP_NEW/UPD by status.
// Filtering additionally requires the master ct to pass the ct filter.
func (m *Manager) ExpResyncStep(entries []*entity.ExpPayload, now clock.Seconds) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	start := m.expCursor
	if start >= len(entries) {
		start = 0
	}
	n := 0
	for i := start; i < len(entries) && n < m.tun.ResyncBatch; i++ {
		if err := m.expResyncOne(entries[i], now); err != nil {
			return n, err
		}
		n++
	}
	next := start + n
	if next >= len(entries) {
		next = 0
	}
	m.expCursor = next
	return n, nil
}

func (m *Manager) expResyncOne(incoming *entity.ExpPayload, now clock.Seconds) error {
	masterObj, ok := m.ct.Find(incoming.Master.HashKey())
	if !ok || masterObj.Status == entity.StatusDead {
		return nil
	}
	if master, ok := masterObj.Payload.(*entity.CTPayload); ok && !m.ctFilter(master) {
		return nil
	}
	obj := m.exp.UpdateForce(incoming, entity.OwnerNone, now)
	if obj.Status == entity.StatusNew {
		if err := m.publish(wire.StateExpNew, incoming); err != nil {
			return err
		}
		obj.Status = entity.StatusAlive
		return nil
	}
	return m.publish(wire.StateExpUpd, incoming)
}

// CtLen, ExpLen expose store sizes for diagnostics and tests.
func (m *Manager) CtLen() int  { return m.ct.Len() }
func (m *Manager) ExpLen() int { return m.exp.Len() }

// Dump writes the internal ct store then the internal exp store, the
// same two-store-in-order shape external.Manager.Dump uses (spec §6's
// operator control socket dump verb covers both managers' state).
func (m *Manager) Dump(w io.Writer, filter func(*entity.CacheObject) bool) {
	m.ct.Dump(w, filter)
	m.exp.Dump(w, filter)
}

// Stats emits the internal ct and exp store sizes under labels
// distinct from the external manager's "New:"/"Old:" tiers.
func (m *Manager) Stats(w io.Writer) {
	m.ct.Stats(w, "Ct:")
	m.exp.Stats(w, "Exp:")
}

// StatsExt is the operator control socket's stats_ext verb (spec §6):
// richer age/idle diagnostics for both internal stores, plus the
// cross-store uniqueness check from spec §4.1/§8 (a ct tuple and an
// exp tuple legitimately hash the same key only by coincidence, so any
// hit here is worth surfacing).
func (m *Manager) StatsExt(w io.Writer, now clock.Seconds) {
	m.ct.StatsExtended(w, "Ct:", now)
	m.exp.StatsExtended(w, "Exp:", now)
	for _, clash := range m.ct.ClashesWith(m.exp) {
		fmt.Fprintf(w, "invariant violation: key=%x same-payload=%t\n", clash.Key, clash.SamePayload)
	}
}

// Flush clears both internal stores and resets every cursor this
// manager advances (purge, resync, exp-resync).
func (m *Manager) Flush() {
	m.ct.Flush()
	m.exp.Flush()
	m.purgeCursor = store.Cursor{}
	m.resyncCursor = 0
	m.expCursor = 0
}

// Commit pushes every ALIVE internal entry to the kernel, aggregating
// the bitmask result across ct and exp (spec §7).
func (m *Manager) Commit(ctx context.Context) (store.CommitResult, error) {
	var result store.CommitResult
	var firstErr error

	r, err := m.ct.Commit(ctx, func(ctx context.Context, p entity.Payload) error {
		return m.ctClient.Commit(ctx, p.(*entity.CTPayload))
	})
	result |= r
	if err != nil && firstErr == nil {
		firstErr = err
	}

	r, err = m.exp.Commit(ctx, func(ctx context.Context, p entity.Payload) error {
		return m.expClient.Commit(ctx, p.(*entity.ExpPayload))
	})
	result |= r
	if err != nil && firstErr == nil {
		firstErr = err
	}
	return result, firstErr
}
