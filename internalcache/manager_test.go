package internalcache

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctdsync/core/dispatch"
	"github.com/ctdsync/core/dispatch/memdispatch"
	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/kernelapi"
	"github.com/ctdsync/core/kernelapi/kernelfake"
	"github.com/ctdsync/core/store"
	"github.com/ctdsync/core/tunables"
	"github.com/ctdsync/core/wire"
)

func tuple(srcPort uint16) entity.Tuple {
	return entity.Tuple{
		SrcIP:   net.ParseIP("10.0.0.1"),
		DstIP:   net.ParseIP("10.0.0.2"),
		SrcPort: srcPort,
		DstPort: 80,
		Proto:   entity.ProtoTCP,
	}
}

func ctPayload(srcPort uint16) *entity.CTPayload {
	return &entity.CTPayload{
		Orig:             tuple(srcPort),
		Reply:            tuple(srcPort),
		Proto:            entity.ProtoTCP,
		CounterOrigBytes: 42,
		CountersSet:      true,
	}
}

func newManager(d dispatch.Dispatcher, ct kernelapi.CtClient) *Manager {
	return New(tunables.Default(), d, dispatch.PeerGroup("all"), nil, ct, nil)
}

func TestEventNewCtPublishesOnNotMeAndStripsCounters(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 0))
	require.Equal(t, 1, m.CtLen())

	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateCtNew, sent[0].Kind)
	p := sent[0].Payload.(*entity.CTPayload)
	require.False(t, p.CountersSet)
	require.EqualValues(t, 0, p.CounterOrigBytes)
}

func TestEventNewCtSuppressedOnInject(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginInject, ctPayload(1), 0))
	require.Equal(t, 0, m.CtLen())
	require.Empty(t, d.All())
}

func TestEventNewCtDeleteAndRetryOnStaleDuplicate(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 0))
	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 10))

	require.Equal(t, 1, m.CtLen())
	require.Len(t, d.All(), 2)
}

func TestEventDelCtOriginGatesAndSuppression(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	removed, err := m.EventDelCt(kernelapi.OriginInject, ctPayload(1))
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = m.EventDelCt(kernelapi.OriginNotMe, ctPayload(1))
	require.NoError(t, err)
	require.False(t, removed)

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(2), 0))
	d.Reset()
	removed, err = m.EventDelCt(kernelapi.OriginNotMe, ctPayload(2))
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 0, m.CtLen())
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateCtDel, sent[0].Kind)
}

func TestPopulateCtSetsAliveWithoutPublishing(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	m.PopulateCt([]*entity.CTPayload{ctPayload(1)}, 0)
	require.Equal(t, 1, m.CtLen())
	require.Empty(t, d.All())

	obj, ok := m.ct.FindPayload(ctPayload(1))
	require.True(t, ok)
	require.Equal(t, entity.StatusAlive, obj.Status)
}

func TestPurgeStepMarksDeadOnKernelMiss(t *testing.T) {
	d := memdispatch.New()
	ct := kernelfake.NewCtClient()
	m := newManager(d, ct)

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 0))
	ct.SetPresent(ctPayload(1).HashKey(), false)

	d.Reset()
	visited, err := m.PurgeStep(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, visited)
	require.Equal(t, 0, m.CtLen())
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateCtDel, sent[0].Kind)
}

func TestPurgeStepBoundedByLimit(t *testing.T) {
	d := memdispatch.New()
	ct := kernelfake.NewCtClient()
	m := newManager(d, ct)
	for i := uint16(1); i <= 5; i++ {
		require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(i), 0))
		ct.SetPresent(ctPayload(i).HashKey(), true)
	}
	visited, err := m.PurgeStep(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, visited)
}

func stalePayload(srcPort uint16, timeout uint32) *entity.CTPayload {
	p := ctPayload(srcPort)
	p.Timeout = timeout
	p.TimeoutSet = true
	return p
}

func TestResyncStepSkipsWithinToleranceBand(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, stalePayload(1, 600), 1000))
	obj, _ := m.ct.FindPayload(ctPayload(1))
	obj.Status = entity.StatusAlive
	d.Reset()

	incoming := stalePayload(1, 80)
	n, err := m.ResyncStep([]*entity.CTPayload{incoming}, 1520)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, d.All())
}

func TestResyncStepEmitsLightweightUpdateWhenDiverged(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, stalePayload(1, 600), 1000))
	obj, _ := m.ct.FindPayload(ctPayload(1))
	obj.Status = entity.StatusAlive
	d.Reset()

	incoming := stalePayload(1, 400)
	n, err := m.ResyncStep([]*entity.CTPayload{incoming}, 1520)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateCtUpd, sent[0].Kind)
}

func TestResyncStepPublishesFullPayloadWhenStatusNew(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewCt(kernelapi.OriginME, stalePayload(1, 600), 1000))
	d.Reset()

	incoming := stalePayload(1, 400)
	_, err := m.ResyncStep([]*entity.CTPayload{incoming}, 1520)
	require.NoError(t, err)
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateCtNew, sent[0].Kind)

	obj, _ := m.ct.FindPayload(ctPayload(1))
	require.Equal(t, entity.StatusAlive, obj.Status)
}

func TestResyncStepSkipsWhenStoredEntryLacksTimeout(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	// ctPayload never sets TimeoutSet, matching a cached entry whose
	// nfct object never carried ATTR_TIMEOUT -- "it probably didn't
	// come from us", so resync must leave it alone even though it is
	// otherwise stale and the incoming payload's timeout diverges well
	// past the tolerance band.
	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 1000))
	obj, _ := m.ct.FindPayload(ctPayload(1))
	obj.Status = entity.StatusAlive
	d.Reset()

	n, err := m.ResyncStep([]*entity.CTPayload{stalePayload(1, 400)}, 100000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, d.All())
}

func TestMasterExists(t *testing.T) {
	m := newManager(memdispatch.New(), kernelfake.NewCtClient())
	require.False(t, m.MasterExists(tuple(1)))

	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 0))
	require.True(t, m.MasterExists(tuple(1)))
}

func expPayload(srcPort uint16, master uint16) *entity.ExpPayload {
	return &entity.ExpPayload{Tuple: tuple(srcPort), Master: tuple(master)}
}

func TestEventNewExpEchoSuppressed(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	require.NoError(t, m.EventNewExp(kernelapi.OriginInject, expPayload(1, 2), 0))
	require.Equal(t, 0, m.ExpLen())
	require.Empty(t, d.All())

	require.NoError(t, m.EventNewExp(kernelapi.OriginNotMe, expPayload(1, 2), 0))
	require.Equal(t, 1, m.ExpLen())
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateExpNew, sent[0].Kind)
}

func TestExpResyncStepSkipsWhenMasterMissing(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())

	n, err := m.ExpResyncStep([]*entity.ExpPayload{expPayload(1, 2)}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, m.ExpLen())
	require.Empty(t, d.All())
}

func TestExpResyncStepPublishesWhenMasterExists(t *testing.T) {
	d := memdispatch.New()
	m := newManager(d, kernelfake.NewCtClient())
	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(2), 0))
	d.Reset()

	n, err := m.ExpResyncStep([]*entity.ExpPayload{expPayload(1, 2)}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, m.ExpLen())
	sent := d.All()
	require.Len(t, sent, 1)
	require.Equal(t, wire.StateExpNew, sent[0].Kind)
}

func TestCommitPushesAliveEntriesAcrossCtAndExp(t *testing.T) {
	ct := kernelfake.NewCtClient()
	exp := kernelfake.NewExpClient()
	m := New(tunables.Default(), memdispatch.New(), dispatch.PeerGroup("all"), nil, ct, exp)

	require.NoError(t, m.EventNewCt(kernelapi.OriginME, ctPayload(1), 0))
	obj, _ := m.ct.FindPayload(ctPayload(1))
	obj.Status = entity.StatusAlive
	require.NoError(t, m.EventNewExp(kernelapi.OriginME, expPayload(2, 1), 0))
	eobj, _ := m.exp.FindPayload(expPayload(2, 1))
	eobj.Status = entity.StatusAlive

	result, err := m.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.CommitOK, result)
	require.Len(t, ct.Commits(), 1)
	require.Len(t, exp.Commits(), 1)
}

func TestDumpStatsFlushCoverBothStores(t *testing.T) {
	m := newManager(memdispatch.New(), kernelfake.NewCtClient())
	require.NoError(t, m.EventNewCt(kernelapi.OriginNotMe, ctPayload(1), 0))
	require.NoError(t, m.EventNewExp(kernelapi.OriginNotMe, expPayload(2, 1), 0))

	var dumpBuf, statsBuf bytes.Buffer
	m.Dump(&dumpBuf, nil)
	require.NotEmpty(t, dumpBuf.String())
	m.Stats(&statsBuf)
	require.Contains(t, statsBuf.String(), "Ct:")
	require.Contains(t, statsBuf.String(), "Exp:")

	m.Flush()
	require.Equal(t, 0, m.CtLen())
	require.Equal(t, 0, m.ExpLen())
}
