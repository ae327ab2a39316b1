package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fcefyn/hilrelay/internal/protocol"
)

func snap(channels map[int]bool) *protocol.Snapshot {
	return &protocol.Snapshot{Timestamp: time.Now(), Channels: channels}
}

func TestHasChangedOnFirstSnapshot(t *testing.T) {
	s := NewSnapshotStore()
	require.True(t, s.HasChanged("/dev/a", snap(map[int]bool{0: true})))
}

func TestHasChangedAfterUpdate(t *testing.T) {
	s := NewSnapshotStore()
	s.Update("/dev/a", snap(map[int]bool{0: true, 1: false}))

	require.False(t, s.HasChanged("/dev/a", snap(map[int]bool{0: true, 1: false})))
	require.True(t, s.HasChanged("/dev/a", snap(map[int]bool{0: true, 1: true})))
	require.True(t, s.HasChanged("/dev/a", snap(map[int]bool{0: true})))
}

func TestStoreIsPerPort(t *testing.T) {
	s := NewSnapshotStore()
	s.Update("/dev/a", snap(map[int]bool{0: true}))

	require.True(t, s.HasChanged("/dev/b", snap(map[int]bool{0: true})))
}

func TestGetLastTracksPublishTime(t *testing.T) {
	s := NewSnapshotStore()

	_, _, ok := s.GetLast("/dev/a")
	require.False(t, ok)

	before := time.Now()
	s.Update("/dev/a", snap(map[int]bool{2: true}))

	last, published, ok := s.GetLast("/dev/a")
	require.True(t, ok)
	require.Equal(t, map[int]bool{2: true}, last.Channels)
	require.False(t, published.Before(before))
}

func TestClear(t *testing.T) {
	s := NewSnapshotStore()
	s.Update("/dev/a", snap(map[int]bool{0: true}))
	s.Clear()

	_, _, ok := s.GetLast("/dev/a")
	require.False(t, ok)
}
