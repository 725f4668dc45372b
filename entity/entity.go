// Package entity holds the data model shared by every cache in this
// module: the CacheObject wrapper, its status lifecycle, and the ct/exp
// payload types it wraps. Grounded on the teacher's item.go (the fields
// a stored value needs: value, expiration, cost) and ttl.go (lifetime
// tracked as a plain integer-second timestamp).
package entity

import "github.com/ctdsync/core/clock"

// Payload is the opaque entity a CacheObject wraps: a ct or exp
// descriptor, kind-fixed per cache. HashKey must be stable for the
// payload's lifetime and derived the same way for every instance of a
// given kind (see hashkey.Sum).
type Payload interface {
	HashKey() uint64
}

// Status is the CacheObject lifecycle state from spec §3.
type Status int

const (
	// StatusNew marks an object until its first successful
	// sync/commit acknowledgment context.
	StatusNew Status = iota
	// StatusAlive marks a confirmed, steady-state object.
	StatusAlive
	// StatusDead marks an object pending physical reclamation.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusAlive:
		return "ALIVE"
	case StatusDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Owner identifies the channel/peer that authored an entry. OwnerNone
// is the sentinel used for internal (locally-authoritative) entries,
// which have no peer author.
type Owner string

// OwnerNone is the sentinel owner for internal-cache entries.
const OwnerNone Owner = ""

// CacheObject is the unit stored by a CacheStore (spec §3).
type CacheObject struct {
	Payload    Payload
	Status     Status
	RefCount   int32
	Owner      Owner
	Lifetime   clock.Seconds
	LastUpdate clock.Seconds
}

// NewCacheObject allocates a CacheObject in status NEW, stamping both
// Lifetime and LastUpdate with now.
func NewCacheObject(p Payload, owner Owner, now clock.Seconds) *CacheObject {
	return &CacheObject{
		Payload:    p,
		Status:     StatusNew,
		RefCount:   1,
		Owner:      owner,
		Lifetime:   now,
		LastUpdate: now,
	}
}

// Touch advances LastUpdate to now, the "forced update" the spec
// describes for subsequent signals against an existing key.
func (o *CacheObject) Touch(now clock.Seconds) {
	o.LastUpdate = now
}
