// Package dispatch is the Sync Dispatcher Interface (spec §4.5): the
// narrow contract by which managers hand outbound messages to the
// transport and receive inbound peer events. Modeled on the teacher's
// ring.Consumer interface (one method, Push([]Element), implemented by
// whatever drains the ring buffer) — here, one outbound method
// (Send) implemented by the out-of-scope transport, and one inbound
// interface (Inbound) that external.AsInbound provides for an
// external.Manager through a small adapter.
package dispatch

import (
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/wire"
)

// PeerID identifies an individual peer, authenticated by the transport
// before a message is ever delivered (spec §4.5's "current_peer").
type PeerID string

// PeerGroup identifies the multicast/unicast group an outbound message
// targets. Opaque to the core; the transport resolves it.
type PeerGroup string

// Dispatcher is the outbound half: best-effort, non-blocking (spec
// §4.5, §7 — "Transport send failure: best-effort; no retry at this
// layer").
type Dispatcher interface {
	Send(group PeerGroup, kind wire.MessageKind, payload entity.Payload) error
}

// Inbound is the receiving half the transport drives, one call per
// delivered peer event, with current_peer pre-resolved for the
// ownership gate (spec §4.3's ct_del).
type Inbound interface {
	CtNew(peer PeerID, payload *entity.CTPayload) error
	CtUpd(peer PeerID, payload *entity.CTPayload) error
	CtDel(peer PeerID, payload *entity.CTPayload) (accepted bool, err error)
	ExpNew(peer PeerID, payload *entity.ExpPayload) error
	ExpUpd(peer PeerID, payload *entity.ExpPayload) error
	ExpDel(peer PeerID, payload *entity.ExpPayload) (removed bool, err error)
}
