// Package store implements CacheStore (spec §4.1): a keyed table of
// entity.CacheObject values with insertion, lookup, forced update,
// deletion, bounded resumable iteration, bulk flush, kernel commit, and
// diagnostic dump/stats emitters.
//
// Grounded on the teacher's store/store.go Map interface (the
// get/set/del/run-over-all-entries shape) and slru/slru.go, which
// pairs a map with a container/list.List to get both O(1) lookup and a
// stable, mutation-safe iteration order — the same pairing used here,
// generalized from two fixed segments to one flat store used for every
// tier and every entity kind.
//
// A CacheStore is NOT safe for concurrent use: spec §5 mandates a
// single-threaded cooperative event loop with no internal locking.
package store

import (
	"container/list"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/ctdsync/core/clock"
	"github.com/ctdsync/core/entity"
)

// Sentinel errors (spec §7's error taxonomy, given concrete Go types).
var (
	ErrAlreadyPresent = errors.New("store: key already present")
	ErrAllocation     = errors.New("store: allocation failure")
)

// Cursor is an opaque, resumable iteration position returned by
// IterateLimit. The zero value means "start from the beginning",
// matching spec §4.1's "cursor resets to 0" language.
//
// It remembers the hash_key of the next entry to visit rather than a
// raw *list.Element: container/list.Element.list is unexported, so a
// store package can't ask a stale element "are you still linked into
// this list?" directly. Re-resolving the key against items on every
// call gets the same answer by construction — Delete keeps items in
// lockstep with order, so a key absent from items can only mean its
// element was removed since the cursor was issued, and IterateLimit
// falls back to the list head exactly as if that check had been made.
type Cursor struct {
	key   uint64
	valid bool
}

// CacheStore is a mapping from hash_key to CacheObject (spec §4.1).
type CacheStore struct {
	name       string
	maxEntries int // 0 = unbounded
	items      map[uint64]*list.Element
	order      *list.List
}

// New creates an empty CacheStore. maxEntries bounds the number of live
// entries; 0 means unbounded. name is used only for dump/stats labels.
func New(name string, maxEntries int) *CacheStore {
	return &CacheStore{
		name:       name,
		maxEntries: maxEntries,
		items:      make(map[uint64]*list.Element),
		order:      list.New(),
	}
}

// Len returns the number of entries currently present.
func (s *CacheStore) Len() int {
	return len(s.items)
}

// Insert inserts obj if its key is absent. It fails with
// ErrAlreadyPresent if a live object already shares the key, and with
// ErrAllocation if the store has a configured bound and is full.
func (s *CacheStore) Insert(obj *entity.CacheObject) error {
	key := obj.Payload.HashKey()
	if _, ok := s.items[key]; ok {
		return errors.Wrapf(ErrAlreadyPresent, "key %x", key)
	}
	if s.maxEntries > 0 && len(s.items) >= s.maxEntries {
		return errors.Wrapf(ErrAllocation, "store %q full (max %d)", s.name, s.maxEntries)
	}
	el := s.order.PushBack(obj)
	s.items[key] = el
	return nil
}

// Find returns the stored object for key, if present.
func (s *CacheStore) Find(key uint64) (*entity.CacheObject, bool) {
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entity.CacheObject), true
}

// FindPayload is a convenience wrapper computing the key from a
// candidate payload before calling Find, matching the find(payload)
// signature in spec §4.1.
func (s *CacheStore) FindPayload(p entity.Payload) (*entity.CacheObject, bool) {
	return s.Find(p.HashKey())
}

// UpdateForce overwrites the stored object for p's key, or allocates
// and inserts one if absent. The returned object always has
// LastUpdate == now.
func (s *CacheStore) UpdateForce(p entity.Payload, owner entity.Owner, now clock.Seconds) *entity.CacheObject {
	key := p.HashKey()
	if el, ok := s.items[key]; ok {
		obj := el.Value.(*entity.CacheObject)
		obj.Payload = p
		obj.Touch(now)
		return obj
	}
	obj := entity.NewCacheObject(p, owner, now)
	el := s.order.PushBack(obj)
	s.items[key] = el
	return obj
}

// Update performs an in-place update of an already-looked-up object,
// avoiding a second hash lookup (the key_slot callers already hold from
// an earlier Find/FindPayload call).
func (s *CacheStore) Update(obj *entity.CacheObject, p entity.Payload, now clock.Seconds) {
	obj.Payload = p
	obj.Touch(now)
}

// Delete removes obj from the index. It does not otherwise release any
// resources; callers drop their own reference afterwards.
func (s *CacheStore) Delete(obj *entity.CacheObject) {
	key := obj.Payload.HashKey()
	if el, ok := s.items[key]; ok {
		delete(s.items, key)
		s.order.Remove(el)
	}
}

// IterateLimit visits up to k entries in stable order starting at
// cursor, invoking fn on each, and returns the cursor to resume from
// plus the number of entries actually visited. If visited < k, the end
// of the store was reached and the returned cursor is the zero Cursor.
//
// fn is permitted to delete the current entry (by calling Delete on
// it); IterateLimit captures the next element before invoking fn, so
// the walk remains valid across such deletions (the safe-erase
// iteration pattern spec §4.1 requires).
//
// cursor is also safe across mutations that happen between two
// IterateLimit calls, not just within one: if the entry cursor would
// resume at was deleted by an unrelated Insert/Delete in the meantime
// (the normal case on the single-threaded event loop, not a contrived
// one — a kernel event or a peer message can land between any two
// alarm-driven scans), the lookup below simply misses and the scan
// resumes from the list head instead of dereferencing the orphaned
// entry.
func (s *CacheStore) IterateLimit(cursor Cursor, k int, fn func(*entity.CacheObject)) (Cursor, int) {
	var start *list.Element
	if cursor.valid {
		start = s.items[cursor.key]
	}
	if start == nil {
		start = s.order.Front()
	}
	visited := 0
	e := start
	for e != nil && visited < k {
		next := e.Next()
		obj := e.Value.(*entity.CacheObject)
		fn(obj)
		visited++
		e = next
	}
	if e == nil {
		return Cursor{}, visited
	}
	return Cursor{key: e.Value.(*entity.CacheObject).Payload.HashKey(), valid: true}, visited
}

// Flush removes and releases all entries.
func (s *CacheStore) Flush() {
	s.items = make(map[uint64]*list.Element)
	s.order.Init()
}

// Dump writes every entry passing filter (nil accepts everything) in
// stable order to w, one line per entry.
func (s *CacheStore) Dump(w io.Writer, filter func(*entity.CacheObject) bool) {
	for e := s.order.Front(); e != nil; e = e.Next() {
		obj := e.Value.(*entity.CacheObject)
		if filter != nil && !filter(obj) {
			continue
		}
		fmt.Fprintf(w, "key=%x status=%s owner=%q lifetime=%d lastupdate=%d\n",
			obj.Payload.HashKey(), obj.Status, obj.Owner, obj.Lifetime, obj.LastUpdate)
	}
}

// Stats writes a one-line entry count under label to w, matching the
// operator control socket's terse stats verb.
func (s *CacheStore) Stats(w io.Writer, label string) {
	fmt.Fprintf(w, "%s %s entries\n", label, humanize.Comma(int64(s.Len())))
}

// clashKeyer is the optional second-hash interface hashkey.Fallback
// backs (see entity.Tuple.ClashKey). Payload kinds that don't implement
// it simply can't be cross-checked; ClashesWith then trusts the
// primary key match alone.
type clashKeyer interface {
	ClashKey() uint64
}

// Clash describes one hash_key found present in both s and another
// store, a direct violation of spec §4.1's "a given payload key is
// present in at most one CacheStore managed by the same manager"
// invariant. SamePayload is false when the two objects' independent
// second hash (hashkey.Fallback) disagrees despite sharing a primary
// hash_key — a sign of an actual xxhash collision between two
// unrelated payloads rather than the same entry double-inserted.
type Clash struct {
	Key         uint64
	SamePayload bool
}

// ClashesWith checks s against other for spec §4.1's cross-store
// uniqueness invariant. A CacheStore cannot enforce this on its own
// since it only ever sees its own keys; callers that own more than one
// store for the same manager (external.Manager's fast/slow/exp,
// internalcache.Manager's ct/exp) run this as a diagnostic, not on
// every mutation.
func (s *CacheStore) ClashesWith(other *CacheStore) []Clash {
	var out []Clash
	for key, el := range s.items {
		oel, ok := other.items[key]
		if !ok {
			continue
		}
		obj := el.Value.(*entity.CacheObject)
		oobj := oel.Value.(*entity.CacheObject)
		same := true
		if ck, ok := obj.Payload.(clashKeyer); ok {
			if ock, ok := oobj.Payload.(clashKeyer); ok {
				same = ck.ClashKey() == ock.ClashKey()
			}
		}
		out = append(out, Clash{Key: key, SamePayload: same})
	}
	return out
}

// StatsExtended writes a richer summary including the age of the
// oldest entry and the idle time of the least-recently-updated entry,
// in human-readable form. contrib/memtest's humanize.Comma-formatted
// counters in the teacher are the precedent for this style of
// diagnostic output.
func (s *CacheStore) StatsExtended(w io.Writer, label string, now clock.Seconds) {
	s.Stats(w, label)
	if s.order.Len() == 0 {
		return
	}
	var oldestAge, longestIdle int64
	for e := s.order.Front(); e != nil; e = e.Next() {
		obj := e.Value.(*entity.CacheObject)
		if age := now.Sub(obj.Lifetime); age > oldestAge {
			oldestAge = age
		}
		if idle := now.Sub(obj.LastUpdate); idle > longestIdle {
			longestIdle = idle
		}
	}
	fmt.Fprintf(w, "%s oldest entry age: %s, longest idle: %s\n", label,
		humanize.RelTime(time.Now().Add(-time.Duration(oldestAge)*time.Second), time.Now(), "", ""),
		humanize.RelTime(time.Now().Add(-time.Duration(longestIdle)*time.Second), time.Now(), "", ""))
}
