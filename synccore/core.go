package synccore

import (
	"context"
	"io"

	"github.com/ctdsync/core/clock"
	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/external"
	"github.com/ctdsync/core/internalcache"
	"github.com/ctdsync/core/kernelapi"
	"github.com/ctdsync/core/scanner"
	"github.com/ctdsync/core/store"
)

// Core is the top-level object: the External and Internal Cache
// Managers plus the four alarms that drive their bounded sweeps,
// serialized through Run's single select loop (spec §5).
type Core struct {
	cfg Config

	External *external.Manager
	Internal *internalcache.Manager

	fastAlarm   *scanner.Alarm
	slowAlarm   *scanner.Alarm
	purgeAlarm  *scanner.Alarm
	resyncAlarm *scanner.Alarm

	inbound dispatch.Inbound
}

// New builds a Core from cfg, constructing both managers and arming
// all four sweep alarms.
func New(cfg Config) *Core {
	cfg = cfg.withDefaults()
	ext := external.New(cfg.Tunables, cfg.CtClient, cfg.ExpClient)
	internal := internalcache.New(cfg.Tunables, cfg.Dispatcher, cfg.Group, cfg.CtFilter, cfg.CtClient, cfg.ExpClient)
	return &Core{
		cfg:         cfg,
		External:    ext,
		Internal:    internal,
		fastAlarm:   scanner.NewAlarm(cfg.Tunables.FastScanInterval),
		slowAlarm:   scanner.NewAlarm(cfg.Tunables.SlowScanInterval),
		purgeAlarm:  scanner.NewAlarm(cfg.Tunables.PurgeInterval),
		resyncAlarm: scanner.NewAlarm(cfg.Tunables.ResyncInterval),
		inbound:     external.AsInbound(ext, clock.Now),
	}
}

// Inbound exposes the External Cache Manager as the dispatch.Inbound
// the transport collaborator drives (spec §4.5).
func (c *Core) Inbound() dispatch.Inbound {
	return c.inbound
}

// Populate loads the initial kernel ct dump into the internal ct cache
// at startup (spec §4.4's populate path); the internal exp cache is not
// populated. No outbound messages are produced.
func (c *Core) Populate(ctx context.Context) error {
	now := clock.Now()
	if c.cfg.CtClient != nil {
		entries, err := c.cfg.CtClient.Dump(ctx)
		if err != nil {
			return err
		}
		c.Internal.PopulateCt(entries, now)
	}
	return nil
}

// Run drives the single-threaded cooperative event loop (spec §5):
// kernel events, alarm fires, and dispatcher-delivered peer events all
// serialize through this one select, with no suspension point inside
// any individual operation. Run blocks until ctx is canceled; an error
// from a single event handler or sweep abandons only that operation,
// and the loop goes on with the next event or alarm.
func (c *Core) Run(ctx context.Context) error {
	defer c.fastAlarm.Stop()
	defer c.slowAlarm.Stop()
	defer c.purgeAlarm.Stop()
	defer c.resyncAlarm.Stop()

	var ctEvents <-chan kernelapi.CtEvent
	var expEvents <-chan kernelapi.ExpEvent
	if c.cfg.CtClient != nil {
		ctEvents = c.cfg.CtClient.Events()
	}
	if c.cfg.ExpClient != nil {
		expEvents = c.cfg.ExpClient.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-ctEvents:
			if !ok {
				ctEvents = nil
				continue
			}
			now := clock.Now()
			_ = c.handleCtEvent(ev, now)

		case ev, ok := <-expEvents:
			if !ok {
				expEvents = nil
				continue
			}
			now := clock.Now()
			_ = c.handleExpEvent(ev, now)

		case <-c.fastAlarm.C():
			c.External.FastGCStep(clock.Now())
			c.fastAlarm.Rearm()

		case <-c.slowAlarm.C():
			c.External.SlowGCStep(clock.Now())
			c.slowAlarm.Rearm()

		case <-c.purgeAlarm.C():
			_, _ = c.Internal.PurgeStep(ctx, c.cfg.Tunables.PurgeBatch)
			c.purgeAlarm.Rearm()

		case <-c.resyncAlarm.C():
			_ = c.runResync(ctx)
			c.resyncAlarm.Rearm()
		}
	}
}

func (c *Core) handleCtEvent(ev kernelapi.CtEvent, now clock.Seconds) error {
	switch ev.Kind {
	case kernelapi.EventNew:
		return c.Internal.EventNewCt(ev.Origin, ev.Payload, now)
	case kernelapi.EventUpd:
		return c.Internal.EventUpdCt(ev.Origin, ev.Payload, now)
	case kernelapi.EventDel:
		_, err := c.Internal.EventDelCt(ev.Origin, ev.Payload)
		return err
	}
	return nil
}

func (c *Core) handleExpEvent(ev kernelapi.ExpEvent, now clock.Seconds) error {
	switch ev.Kind {
	case kernelapi.EventNew:
		return c.Internal.EventNewExp(ev.Origin, ev.Payload, now)
	case kernelapi.EventUpd:
		return c.Internal.EventUpdExp(ev.Origin, ev.Payload, now)
	case kernelapi.EventDel:
		_, err := c.Internal.EventDelExp(ev.Origin, ev.Payload)
		return err
	}
	return nil
}

func (c *Core) runResync(ctx context.Context) error {
	now := clock.Now()
	if c.cfg.CtClient != nil {
		entries, err := c.cfg.CtClient.Dump(ctx)
		if err != nil {
			return err
		}
		if _, err := c.Internal.ResyncStep(entries, now); err != nil {
			return err
		}
	}
	if c.cfg.ExpClient != nil {
		entries, err := c.cfg.ExpClient.Dump(ctx)
		if err != nil {
			return err
		}
		if _, err := c.Internal.ExpResyncStep(entries, now); err != nil {
			return err
		}
	}
	return nil
}

// Dump, Stats, Flush, and Commit reach the operator control socket's
// four terse verbs (spec §6) through to both managers: the external
// cache's peer-learned view and the internal cache's locally
// authoritative view.
func (c *Core) Dump(w io.Writer, filter func(*entity.CacheObject) bool) {
	c.Internal.Dump(w, filter)
	c.External.Dump(w, filter)
}

func (c *Core) Stats(w io.Writer) {
	c.Internal.Stats(w)
	c.External.Stats(w)
}

// StatsExt is the operator control socket's stats_ext verb (spec §6).
func (c *Core) StatsExt(w io.Writer) {
	now := clock.Now()
	c.Internal.StatsExt(w, now)
	c.External.StatsExt(w, now)
}

func (c *Core) Flush() {
	c.Internal.Flush()
	c.External.Flush()
}

func (c *Core) Commit(ctx context.Context) (store.CommitResult, error) {
	r1, err := c.Internal.Commit(ctx)
	r2, err2 := c.External.Commit(ctx)
	if err == nil {
		err = err2
	}
	return r1 | r2, err
}
