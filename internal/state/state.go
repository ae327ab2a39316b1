package state

import (
	"sync"
	"time"

	"github.com/fcefyn/hilrelay/internal/protocol"
)

// SnapshotStore caches the last published channel snapshot per device path.
// It exists to decide when a publish is worth doing; the device is ground
// truth, never this cache.
type SnapshotStore interface {
	GetLast(port string) (*protocol.Snapshot, time.Time, bool)
	Update(port string, snap *protocol.Snapshot)
	HasChanged(port string, snap *protocol.Snapshot) bool
	Clear()
}

type snapshotStore struct {
	store     map[string]*protocol.Snapshot
	published map[string]time.Time
	mu        sync.RWMutex
}

func NewSnapshotStore() SnapshotStore {
	return &snapshotStore{
		store:     make(map[string]*protocol.Snapshot),
		published: make(map[string]time.Time),
	}
}

func (s *snapshotStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[string]*protocol.Snapshot)
	s.published = make(map[string]time.Time)
}

func (s *snapshotStore) GetLast(port string) (*protocol.Snapshot, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.store[port]
	published, ok2 := s.published[port]
	return snap, published, ok && ok2
}

func (s *snapshotStore) Update(port string, snap *protocol.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[port] = snap
	s.published[port] = time.Now()
}

func (s *snapshotStore) HasChanged(port string, snap *protocol.Snapshot) bool {
	last, _, ok := s.GetLast(port)
	if !ok {
		return true
	}
	return !snapshotEqual(last, snap)
}

func snapshotEqual(a, b *protocol.Snapshot) bool {
	if len(a.Channels) != len(b.Channels) {
		return false
	}
	for ch, level := range a.Channels {
		if other, ok := b.Channels[ch]; !ok || other != level {
			return false
		}
	}
	return true
}
