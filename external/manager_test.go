package external

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctdsync/core/entity"
	"github.com/ctdsync/core/kernelapi/kernelfake"
	"github.com/ctdsync/core/store"
	"github.com/ctdsync/core/tunables"
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
	return &entity.CTPayload{Orig: tuple(srcPort), Reply: tuple(srcPort), Proto: entity.ProtoTCP}
}

func newManager() *Manager {
	return New(tunables.Default(), kernelfake.NewCtClient(), nil)
}

func TestCtNewAllocatesIntoFast(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	require.Equal(t, 1, m.FastLen())
	require.Equal(t, 0, m.SlowLen())
}

func TestCtNewReAnnounceIsIdempotent(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	require.NoError(t, m.CtNew("peerB", ctPayload(1), 5))
	require.Equal(t, 1, m.FastLen())
	obj, ok := m.fast.FindPayload(ctPayload(1))
	require.True(t, ok)
	require.Equal(t, entity.Owner("peerB"), obj.Owner)
}

func TestCtDelOwnershipGate(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))

	accepted, err := m.CtDel("peerB", ctPayload(1))
	require.NoError(t, err)
	require.False(t, accepted)
	require.Equal(t, 1, m.FastLen())

	accepted, err = m.CtDel("peerA", ctPayload(1))
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, 0, m.FastLen())
}

func TestFastGCPromotesAgedEntries(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))

	m.FastGCStep(100)
	require.Equal(t, 1, m.FastLen())
	require.Equal(t, 0, m.SlowLen())

	m.FastGCStep(301)
	require.Equal(t, 0, m.FastLen())
	require.Equal(t, 1, m.SlowLen())
	require.EqualValues(t, 1, m.Promotions())
}

func TestFastGCBoundedByBatch(t *testing.T) {
	m := newManager()
	m.tun.FastScanBatch = 2
	for i := uint16(1); i <= 5; i++ {
		require.NoError(t, m.CtNew("peerA", ctPayload(i), 0))
	}
	visited := m.FastGCStep(0)
	require.Equal(t, 2, visited)
}

func TestSlowGCExpiresIdleEntries(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	m.FastGCStep(301)
	require.Equal(t, 1, m.SlowLen())

	m.SlowGCStep(21601)
	require.Equal(t, 0, m.SlowLen())
	require.EqualValues(t, 1, m.SlowExpirations())
}

func expPayload(srcPort uint16) *entity.ExpPayload {
	return &entity.ExpPayload{Tuple: tuple(srcPort), Master: tuple(srcPort)}
}

func TestExpDelReturnsTrueOnlyWhenRemoved(t *testing.T) {
	m := newManager()
	require.False(t, m.ExpDel(expPayload(1)))

	m.ExpNew("peerA", expPayload(1), 0)
	require.True(t, m.ExpDel(expPayload(1)))
	require.False(t, m.ExpDel(expPayload(1)))
}

func TestDumpEmitsFastThenSlowThenExp(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	m.FastGCStep(301)
	require.NoError(t, m.CtNew("peerA", ctPayload(2), 0))
	m.ExpNew("peerA", expPayload(3), 0)

	var sb strings.Builder
	m.Dump(&sb, nil)
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], fmt.Sprintf("key=%x ", ctPayload(2).HashKey())))
	require.True(t, strings.HasPrefix(lines[1], fmt.Sprintf("key=%x ", ctPayload(1).HashKey())))
	require.True(t, strings.HasPrefix(lines[2], fmt.Sprintf("key=%x ", expPayload(3).HashKey())))
}

func TestCommitAggregatesAcrossStores(t *testing.T) {
	ct := kernelfake.NewCtClient()
	m := New(tunables.Default(), ct, nil)
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	obj, ok := m.fast.FindPayload(ctPayload(1))
	require.True(t, ok)
	obj.Status = entity.StatusAlive

	result, err := m.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.CommitOK, result)
	require.Len(t, ct.Commits(), 1)
}

func TestCheckInvariantFindsNoClashesInNormalOperation(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))
	m.ExpNew("peerA", expPayload(2), 0)

	require.Empty(t, m.CheckInvariant())
}

func TestCheckInvariantDetectsCrossStoreClash(t *testing.T) {
	m := newManager()
	p := ctPayload(1)
	obj := entity.NewCacheObject(p, "peerA", 0)
	require.NoError(t, m.fast.Insert(obj))
	// Force the same key directly into slow too, simulating an
	// invariant violation no single manager call should ever produce.
	require.NoError(t, m.slow.Insert(entity.NewCacheObject(p, "peerA", 0)))

	clashes := m.CheckInvariant()
	require.Len(t, clashes, 1)
	require.True(t, clashes[0].SamePayload)
}

func TestStatsExtWritesPerStoreDiagnostics(t *testing.T) {
	m := newManager()
	require.NoError(t, m.CtNew("peerA", ctPayload(1), 0))

	var buf strings.Builder
	m.StatsExt(&buf, 10)
	out := buf.String()
	require.Contains(t, out, "New:")
	require.Contains(t, out, "Old:")
	require.Contains(t, out, "Exp:")
}
