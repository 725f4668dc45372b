// Package kernelapi declares the out-of-scope kernel collaborator
// (spec §1, §6) as pure interfaces: a stream of ct/exp events classified
// by origin, a synchronous existence probe, a bulk dump, and a commit
// sink. No netlink (or any other kernel-transport) library is imported
// anywhere in this module — the spec explicitly scopes the kernel
// client out, "referenced only by interface".
package kernelapi

import (
	"context"

	"github.com/ctdsync/core/entity"
)

// Origin classifies every kernel event (glossary: origin).
type Origin int

const (
	// OriginNotMe marks an event generated elsewhere (another
	// process, or the kernel itself expiring a flow).
	OriginNotMe Origin = iota
	// OriginME marks an event generated by this daemon's own
	// earlier commit into the kernel table.
	OriginME
	// OriginInject marks an event generated by this daemon's own
	// direct inject. The internal cache manager's event handlers
	// ignore it, so it never produces an outbound message.
	OriginInject
)

func (o Origin) String() string {
	switch o {
	case OriginNotMe:
		return "NOT_ME"
	case OriginME:
		return "ME"
	case OriginInject:
		return "INJECT"
	default:
		return "UNKNOWN"
	}
}

// EventKind is the kernel event's verb.
type EventKind int

const (
	EventNew EventKind = iota
	EventUpd
	EventDel
)

// CtEvent is one kernel-observed ct event.
type CtEvent struct {
	Kind    EventKind
	Origin  Origin
	Payload *entity.CTPayload
}

// ExpEvent is one kernel-observed exp event.
type ExpEvent struct {
	Kind    EventKind
	Origin  Origin
	Payload *entity.ExpPayload
}

// CtClient is the full kernel collaborator surface used for ct
// entries: an event stream, a synchronous existence probe (used by the
// purge sweep), a bulk dump (used for populate and resync), and a
// commit sink (used by CacheStore.Commit).
type CtClient interface {
	Events() <-chan CtEvent
	Get(ctx context.Context, p *entity.CTPayload) (found bool, err error)
	Dump(ctx context.Context) ([]*entity.CTPayload, error)
	Commit(ctx context.Context, p *entity.CTPayload) error
}

// ExpClient is the analogous surface for exp entries.
type ExpClient interface {
	Events() <-chan ExpEvent
	Get(ctx context.Context, p *entity.ExpPayload) (found bool, err error)
	Dump(ctx context.Context) ([]*entity.ExpPayload, error)
	Commit(ctx context.Context, p *entity.ExpPayload) error
}
