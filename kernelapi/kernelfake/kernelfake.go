// Package kernelfake is an in-memory stand-in for the kernel
// collaborator (kernelapi.CtClient/ExpClient), used only by this
// module's tests. Grounded on the same minimal-fake-over-mock style
// used throughout the teacher's test files.
package kernelfake

import (
	"context"
	"sync"

	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/kernelapi"
)

// CtClient is a programmable fake kernelapi.CtClient.
type CtClient struct {
	mu      sync.Mutex
	events  chan kernelapi.CtEvent
	present map[uint64]bool
	dump    []*entity.CTPayload
	commits []*entity.CTPayload
	failGet bool
}

// NewCtClient returns an empty fake with a buffered event channel.
func NewCtClient() *CtClient {
	return &CtClient{
		events:  make(chan kernelapi.CtEvent, 64),
		present: make(map[uint64]bool),
	}
}

// Emit pushes an event onto the fake's event stream.
func (c *CtClient) Emit(ev kernelapi.CtEvent) {
	c.events <- ev
}

func (c *CtClient) Events() <-chan kernelapi.CtEvent {
	return c.events
}

// SetPresent controls what Get reports for a given hash key, modeling
// whether the kernel currently holds that entry.
func (c *CtClient) SetPresent(key uint64, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present[key] = present
}

// FailGet makes every subsequent Get call return an error, modeling a
// probe failure (spec §7: treated the same as "entry gone").
func (c *CtClient) FailGet(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failGet = fail
}

func (c *CtClient) Get(_ context.Context, p *entity.CTPayload) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return false, errProbeFailed
	}
	return c.present[p.HashKey()], nil
}

// SetDump controls what Dump returns.
func (c *CtClient) SetDump(entries []*entity.CTPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dump = entries
}

func (c *CtClient) Dump(context.Context) ([]*entity.CTPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dump, nil
}

func (c *CtClient) Commit(_ context.Context, p *entity.CTPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, p)
	return nil
}

// Commits returns every payload passed to Commit so far.
func (c *CtClient) Commits() []*entity.CTPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entity.CTPayload, len(c.commits))
	copy(out, c.commits)
	return out
}

type probeErr struct{}

func (probeErr) Error() string { return "kernelfake: probe failed" }

var errProbeFailed = probeErr{}

// ExpClient is a programmable fake kernelapi.ExpClient, the exp-kind
// analogue of CtClient.
type ExpClient struct {
	mu      sync.Mutex
	events  chan kernelapi.ExpEvent
	present map[uint64]bool
	dump    []*entity.ExpPayload
	commits []*entity.ExpPayload
}

func NewExpClient() *ExpClient {
	return &ExpClient{
		events:  make(chan kernelapi.ExpEvent, 64),
		present: make(map[uint64]bool),
	}
}

func (c *ExpClient) Emit(ev kernelapi.ExpEvent) {
	c.events <- ev
}

func (c *ExpClient) Events() <-chan kernelapi.ExpEvent {
	return c.events
}

func (c *ExpClient) SetPresent(key uint64, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present[key] = present
}

func (c *ExpClient) Get(_ context.Context, p *entity.ExpPayload) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.present[p.HashKey()], nil
}

func (c *ExpClient) SetDump(entries []*entity.ExpPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dump = entries
}

func (c *ExpClient) Dump(context.Context) ([]*entity.ExpPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dump, nil
}

func (c *ExpClient) Commit(_ context.Context, p *entity.ExpPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, p)
	return nil
}

func (c *ExpClient) Commits() []*entity.ExpPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entity.ExpPayload, len(c.commits))
	copy(out, c.commits)
	return out
}
