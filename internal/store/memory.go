package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jha-hitesh/slack-channels-proxy/internal/names"
)

type memorySyncLock struct {
	isLocked bool
	lockedAt *time.Time
}

// MemoryStore is an in-process Store used by tests and the memory://
// DSN. Mutations take a single mutex, mirroring the transactional
// semantics of the postgres implementation.
type MemoryStore struct {
	mu       sync.Mutex
	channels []*Channel
	locks    map[string]*memorySyncLock
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: map[string]*memorySyncLock{},
		now:   time.Now,
	}
}

func (s *MemoryStore) GetChannelByName(ctx context.Context, workspaceID, name string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := names.Normalize(name)
	for _, record := range s.channels {
		if record.WorkspaceID == workspaceID && record.Name == normalized {
			return *record, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: channel", ErrNotFound)
}

func (s *MemoryStore) UpsertChannel(ctx context.Context, workspaceID, channelID, name string, isArchived bool) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := names.Normalize(name)
	now := s.now().UTC()

	var match *Channel
	for _, record := range s.channels {
		if record.WorkspaceID == workspaceID && record.Name == normalized {
			match = record
			break
		}
	}
	if match == nil {
		for _, record := range s.channels {
			if record.ChannelID == channelID {
				match = record
				break
			}
		}
	}
	if match == nil {
		record := &Channel{
			WorkspaceID: workspaceID,
			ChannelID:   channelID,
			Name:        normalized,
			IsArchived:  isArchived,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.channels = append(s.channels, record)
		return *record, nil
	}
	match.ChannelID = channelID
	match.Name = normalized
	match.IsArchived = isArchived
	match.UpdatedAt = now
	return *match, nil
}

func (s *MemoryStore) RenameChannel(ctx context.Context, workspaceID, channelID, name string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := names.Normalize(name)
	for _, record := range s.channels {
		if record.WorkspaceID == workspaceID && record.ChannelID == channelID {
			record.Name = normalized
			record.UpdatedAt = s.now().UTC()
			return *record, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: channel", ErrNotFound)
}

func (s *MemoryStore) ArchiveChannel(ctx context.Context, workspaceID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.channels {
		if record.WorkspaceID == workspaceID && record.ChannelID == channelID {
			record.IsArchived = true
			record.UpdatedAt = s.now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountChannels(ctx context.Context, workspaceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.channels {
		if record.WorkspaceID == workspaceID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) TryAcquireSyncLock(ctx context.Context, workspaceID string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	lock, ok := s.locks[workspaceID]
	if !ok {
		lock = &memorySyncLock{}
		s.locks[workspaceID] = lock
	}
	if lock.isLocked && (lock.lockedAt == nil || now.Sub(*lock.lockedAt) <= staleAfter) {
		return false, nil
	}
	lock.isLocked = true
	lockedAt := now
	lock.lockedAt = &lockedAt
	return true, nil
}

func (s *MemoryStore) ReleaseSyncLock(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[workspaceID]
	if !ok {
		return nil
	}
	lock.isLocked = false
	lock.lockedAt = nil
	return nil
}

func (s *MemoryStore) SyncLockHeld(ctx context.Context, workspaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[workspaceID]
	if !ok {
		return false, nil
	}
	return lock.isLocked, nil
}

// LockedAt exposes the lock timestamp for tests and status reporting.
func (s *MemoryStore) LockedAt(workspaceID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[workspaceID]
	if !ok || lock.lockedAt == nil {
		return nil
	}
	copied := *lock.lockedAt
	return &copied
}

func (s *MemoryStore) Close() error {
	return nil
}
