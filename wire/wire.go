// Package wire names the message kinds the Sync Dispatcher carries
// (spec §6): STATE_CT_NEW/UPD/DEL and STATE_EXP_NEW/UPD/DEL. Framing
// and serialization are out of scope (spec §1) — this package only
// gives the core a typed vocabulary for "what kind of message is
// this", the same narrow role the teacher's itemFlag enum
// (itemNew/itemUpdate/itemDelete) plays for its own internal apply
// loop.
package wire

import "github.com/ctdsync/core/entity"

// MessageKind is one of the six wire message kinds the core emits.
type MessageKind int

const (
	StateCtNew MessageKind = iota
	StateCtUpd
	StateCtDel
	StateExpNew
	StateExpUpd
	StateExpDel
)

func (k MessageKind) String() string {
	switch k {
	case StateCtNew:
		return "STATE_CT_NEW"
	case StateCtUpd:
		return "STATE_CT_UPD"
	case StateCtDel:
		return "STATE_CT_DEL"
	case StateExpNew:
		return "STATE_EXP_NEW"
	case StateExpUpd:
		return "STATE_EXP_UPD"
	case StateExpDel:
		return "STATE_EXP_DEL"
	default:
		return "UNKNOWN"
	}
}

// newLightweightCT is a replaceable allocation hook. Tests override it
// to return nil to exercise the "light-weight allocation fails, fall
// back to the incoming payload" path spec §4.4 step 7 describes; in
// normal operation it always succeeds, since Go has no analogue of the
// source's malloc-can-fail discipline, but the fallback path still
// needs to exist and be exercised.
var newLightweightCT = func() *entity.CTPayload {
	return &entity.CTPayload{}
}

// LightweightCTResync builds the minimal resync payload spec §4.4 step
// 7 describes: only the tuple, the timeout, and — for TCP — the TCP
// state. ok is false if the allocation hook returned nil, in which case
// callers must fall back to publishing incoming directly.
func LightweightCTResync(incoming *entity.CTPayload) (out *entity.CTPayload, ok bool) {
	lw := newLightweightCT()
	if lw == nil {
		return nil, false
	}
	lw.Orig = incoming.Orig
	lw.Reply = incoming.Reply
	lw.Proto = incoming.Proto
	lw.Timeout = incoming.Timeout
	lw.TimeoutSet = incoming.TimeoutSet
	if incoming.Proto == entity.ProtoTCP && incoming.TCPStateSet {
		lw.TCPState = incoming.TCPState
		lw.TCPStateSet = true
	}
	return lw, true
}
