// Package store persists the channel cache and the per-workspace sync
// locks. Both record types are owned exclusively by the storage engine;
// callers only see transient copies returned per operation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// ErrInvalidInput is returned for empty DSNs and similar caller mistakes.
var ErrInvalidInput = errors.New("invalid input")

// Channel is one cached remote channel. Names are stored normalized and
// are unique per workspace; channel ids are unique globally. Rows are
// never deleted: archival is a flag so the id-to-row mapping survives
// event replay.
type Channel struct {
	WorkspaceID string    `json:"workspace_id"`
	ChannelID   string    `json:"channel_id"`
	Name        string    `json:"name"`
	IsArchived  bool      `json:"is_archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncLockState is a read-only view of a workspace's sync lock row.
type SyncLockState struct {
	WorkspaceID string
	IsLocked    bool
	LockedAt    *time.Time
}

// ChannelStore is the persistent (workspace, name) -> channel mapping
// with a secondary unique key on the remote channel id.
type ChannelStore interface {
	// GetChannelByName resolves a channel by workspace and name. The name
	// is normalized before matching. Returns ErrNotFound on a miss.
	GetChannelByName(ctx context.Context, workspaceID, name string) (Channel, error)

	// UpsertChannel writes a remote descriptor into the cache. It matches
	// by (workspace, normalized name) first and falls back to the channel
	// id so a rename updates the existing row in place instead of
	// inserting a duplicate.
	UpsertChannel(ctx context.Context, workspaceID, channelID, name string, isArchived bool) (Channel, error)

	// RenameChannel changes the stored name of the row with the given
	// channel id, leaving the archived flag untouched. The new name is
	// normalized before writing. Returns ErrNotFound when the cache has
	// no row for the id.
	RenameChannel(ctx context.Context, workspaceID, channelID, name string) (Channel, error)

	// ArchiveChannel flags the row with the given channel id as archived
	// without touching its name. Reports whether a row matched; an
	// unknown id is not an error.
	ArchiveChannel(ctx context.Context, workspaceID, channelID string) (bool, error)

	// CountChannels reports how many rows exist for a workspace.
	CountChannels(ctx context.Context, workspaceID string) (int, error)
}

// SyncLockStore is the staleness-expiring mutual exclusion used to keep
// full resynchronization single-flight per workspace. Correctness relies
// only on the storage engine's transaction isolation, so the lock is safe
// across service instances.
type SyncLockStore interface {
	// TryAcquireSyncLock attempts to take the lock. It succeeds when the
	// row is unlocked, does not exist yet, or was locked longer than
	// staleAfter ago (an abandoned holder). The read and the write commit
	// as one transaction.
	TryAcquireSyncLock(ctx context.Context, workspaceID string, staleAfter time.Duration) (bool, error)

	// ReleaseSyncLock unlocks the row. Releasing an unlocked or missing
	// row is a no-op.
	ReleaseSyncLock(ctx context.Context, workspaceID string) error

	// SyncLockHeld reports whether the lock row is currently flagged
	// locked, ignoring staleness. Used for status display only.
	SyncLockHeld(ctx context.Context, workspaceID string) (bool, error)
}

// Store is the full persistence surface the service composes over.
type Store interface {
	ChannelStore
	SyncLockStore
	Close() error
}
