// Package synccore wires the leaf packages (store, external,
// internalcache, scanner) into a single runnable core, replacing the
// source's global `STATE`/`STATE_SYNC` pointers (spec §9) with an
// explicit context object built once at construction and held by
// reference. Grounded on the teacher's Config/NewCache pair: a plain
// options struct with field-by-field defaults, consumed once to build
// the long-lived object.
package synccore

import (
	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/filter"
	"github.com/ctdsync/core/kernelapi"
	"github.com/ctdsync/core/tunables"
)

// Config configures a Core at construction (spec §9's "explicit
// context object ... carrying: the configured filters, the sync
// channel handle, the kernel handles, and the tunables").
type Config struct {
	// Tunables defaults to tunables.Default() when zero.
	Tunables tunables.Tunables

	// Dispatcher is the outbound transport handle. Required.
	Dispatcher dispatch.Dispatcher
	// Group is the peer group outbound sync messages target.
	Group dispatch.PeerGroup

	// CtFilter decides which ct connections are eligible for
	// resync/population at all. Defaults to filter.AcceptAllCt.
	CtFilter filter.Ct

	// CtClient and ExpClient are the kernel collaborator handles.
	// Required.
	CtClient  kernelapi.CtClient
	ExpClient kernelapi.ExpClient
}

func (c Config) withDefaults() Config {
	if c.CtFilter == nil {
		c.CtFilter = filter.AcceptAllCt
	}
	if (c.Tunables == tunables.Tunables{}) {
		c.Tunables = tunables.Default()
	}
	return c
}
