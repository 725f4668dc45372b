// Package memdispatch is an in-memory, goroutine-safe Dispatcher used
// by this module's own tests to assert echo suppression and
// resync-silence without a real transport — grounded on the teacher's
// preference for a small direct fake over a mocking framework (e.g.
// store/store_test.go asserts directly against map state rather than
// mocking the Map interface).
package memdispatch

import (
	"sync"

	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/wire"
)

// Sent records one outbound call.
type Sent struct {
	Group   dispatch.PeerGroup
	Kind    wire.MessageKind
	Payload entity.Payload
}

// Dispatcher collects every Send call in order.
type Dispatcher struct {
	mu   sync.Mutex
	sent []Sent
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Send implements dispatch.Dispatcher.
func (d *Dispatcher) Send(group dispatch.PeerGroup, kind wire.MessageKind, payload entity.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, Sent{Group: group, Kind: kind, Payload: payload})
	return nil
}

// All returns a snapshot of every Send call so far.
func (d *Dispatcher) All() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}

// Reset clears recorded sends.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = nil
}
