package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
)

type memStore struct {
	mu    sync.Mutex
	snaps []*Snapshot
	err   error
}

func (m *memStore) InsertSnapshot(s *Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.snaps = append(m.snaps, s)
	return int64(len(m.snaps)), nil
}

func (m *memStore) reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.snaps))
	for i, s := range m.snaps {
		out[i] = s.SnapshotReason
	}
	return out
}

func TestSession_PersistAndRestore(t *testing.T) {
	src := NewSession(testConfig(200), nil)
	src.ProcessLaserScan(roomScan(geometry.Pose{}, 180))
	src.ProcessLaserScan(roomScan(geometry.Pose{X: 0.02}, 180))

	store := &memStore{}
	require.NoError(t, src.Persist(store, "manual"))
	require.Len(t, store.snaps, 1)

	snap := store.snaps[0]
	assert.Equal(t, src.ID(), snap.SessionID)
	assert.Equal(t, 200, snap.Width)
	assert.Equal(t, 0.05, snap.Resolution)
	assert.InDelta(t, -5, snap.OriginX, 1e-9)
	assert.Equal(t, 2, snap.ScanCount)
	assert.Equal(t, "manual", snap.SnapshotReason)

	dst := NewSession(testConfig(200), nil)
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, src.Pose(), dst.Pose())
	assert.NotEqual(t, src.ID(), dst.ID())

	var want, got []gridmap.LogOddsCell
	src.WithMap(func(m *gridmap.LogOddsGridMap) { want = append(want, m.Cells()...) })
	dst.WithMap(func(m *gridmap.LogOddsGridMap) { got = append(got, m.Cells()...) })
	assert.Equal(t, want, got)

	u := dst.ProcessLaserScan(roomScan(geometry.Pose{X: 0.02}, 180))
	assert.True(t, u.Matched, "restored session matches the next scan")
	assert.Equal(t, 3, u.Scan)
}

func TestSession_RestoreMismatch(t *testing.T) {
	src := NewSession(testConfig(100), nil)
	snap, err := src.Snapshot("manual")
	require.NoError(t, err)

	dst := NewSession(testConfig(120), nil)
	assert.ErrorIs(t, dst.Restore(snap), ErrSnapshotMismatch)

	snap.Width, snap.Height = 120, 120
	snap.Resolution = 0.1
	assert.ErrorIs(t, dst.Restore(snap), ErrSnapshotMismatch)

	// Same size and resolution, but world (0, 0) sits at a different cell.
	shiftedCfg := testConfig(100)
	startX := 0.1
	shiftedCfg.MapStartX = &startX
	shifted := NewSession(shiftedCfg, nil)
	snap, err = src.Snapshot("manual")
	require.NoError(t, err)
	err = shifted.Restore(snap)
	assert.ErrorIs(t, err, ErrSnapshotMismatch)
	assert.Contains(t, err.Error(), "origin")
	assert.Equal(t, 0, shifted.Stats().Scans)

	assert.Error(t, dst.Restore(nil))
}

func TestSession_PersistPropagatesStoreError(t *testing.T) {
	s := NewSession(testConfig(40), nil)
	boom := errors.New("disk full")
	assert.ErrorIs(t, s.Persist(&memStore{err: boom}, "manual"), boom)
	assert.NoError(t, s.Persist(nil, "manual"))
}

func TestFlusher_PeriodicAndFinal(t *testing.T) {
	s := NewSession(testConfig(40), nil)
	store := &memStore{}
	f := NewFlusher(FlusherConfig{Persister: s, Store: store, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.reasons()) >= 2 }, 2*time.Second, time.Millisecond)
	assert.True(t, f.IsRunning())
	cancel()
	require.NoError(t, <-done)

	reasons := store.reasons()
	assert.Equal(t, "periodic_flush", reasons[0])
	assert.Equal(t, "final_flush", reasons[len(reasons)-1])
	assert.False(t, f.IsRunning())
}

func TestFlusher_StopAndFlushNow(t *testing.T) {
	s := NewSession(testConfig(40), nil)
	store := &memStore{}
	f := NewFlusher(FlusherConfig{Persister: s, Store: store, Interval: time.Hour, Reason: "tick"})

	f.FlushNow()
	assert.Equal(t, []string{"manual"}, store.reasons())

	go func() { _ = f.Run(context.Background()) }()
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)
	f.Stop()
	f.Stop()
	assert.Equal(t, []string{"manual", "final_flush"}, store.reasons())
}

func TestFlusher_NonPositiveInterval(t *testing.T) {
	f := NewFlusher(FlusherConfig{Persister: NewSession(testConfig(40), nil), Store: &memStore{}})
	assert.NoError(t, f.Run(context.Background()))
	assert.False(t, f.IsRunning())
}
