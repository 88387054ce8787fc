package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/jha-hitesh/slack-channels-proxy/internal/names"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps channels and sync locks in two postgres tables.
// The schema is created lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			`CREATE TABLE IF NOT EXISTS workspace_channels (
				id BIGSERIAL PRIMARY KEY,
				workspace_id TEXT NOT NULL,
				channel_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (workspace_id, name)
			)`,
			`CREATE TABLE IF NOT EXISTS sync_locks (
				id BIGSERIAL PRIMARY KEY,
				workspace_id TEXT NOT NULL UNIQUE,
				is_locked BOOLEAN NOT NULL DEFAULT FALSE,
				locked_at TIMESTAMPTZ
			)`,
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) GetChannelByName(ctx context.Context, workspaceID, name string) (Channel, error) {
	if err := s.ensureReady(); err != nil {
		return Channel{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	normalized := names.Normalize(name)
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, channel_id, name, is_archived, created_at, updated_at
		FROM workspace_channels
		WHERE workspace_id = $1 AND name = $2`, workspaceID, normalized)
	return scanChannel(row)
}

func (s *PostgresStore) UpsertChannel(ctx context.Context, workspaceID, channelID, name string, isArchived bool) (Channel, error) {
	if err := s.ensureReady(); err != nil {
		return Channel{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	normalized := names.Normalize(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Channel{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Match by (workspace, name) first, then by channel id so renames
	// update the existing row instead of inserting a duplicate.
	var rowID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM workspace_channels
		WHERE workspace_id = $1 AND name = $2
		FOR UPDATE`, workspaceID, normalized).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM workspace_channels
			WHERE channel_id = $1
			FOR UPDATE`, channelID).Scan(&rowID)
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workspace_channels (workspace_id, channel_id, name, is_archived, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())`, workspaceID, channelID, normalized, isArchived)
		if err != nil {
			return Channel{}, err
		}
	case err != nil:
		return Channel{}, err
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE workspace_channels
			SET channel_id = $1, name = $2, is_archived = $3, updated_at = NOW()
			WHERE id = $4`, channelID, normalized, isArchived, rowID)
		if err != nil {
			return Channel{}, err
		}
	}

	row := tx.QueryRowContext(ctx, `
		SELECT workspace_id, channel_id, name, is_archived, created_at, updated_at
		FROM workspace_channels
		WHERE channel_id = $1`, channelID)
	record, err := scanChannel(row)
	if err != nil {
		return Channel{}, err
	}
	if err := tx.Commit(); err != nil {
		return Channel{}, err
	}
	committed = true
	return record, nil
}

func (s *PostgresStore) RenameChannel(ctx context.Context, workspaceID, channelID, name string) (Channel, error) {
	if err := s.ensureReady(); err != nil {
		return Channel{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	normalized := names.Normalize(name)
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspace_channels
		SET name = $1, updated_at = NOW()
		WHERE workspace_id = $2 AND channel_id = $3`, normalized, workspaceID, channelID)
	if err != nil {
		return Channel{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Channel{}, err
	}
	if affected == 0 {
		return Channel{}, fmt.Errorf("%w: channel", ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, channel_id, name, is_archived, created_at, updated_at
		FROM workspace_channels
		WHERE workspace_id = $1 AND channel_id = $2`, workspaceID, channelID)
	return scanChannel(row)
}

func (s *PostgresStore) ArchiveChannel(ctx context.Context, workspaceID, channelID string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE workspace_channels
		SET is_archived = TRUE, updated_at = NOW()
		WHERE workspace_id = $1 AND channel_id = $2`, workspaceID, channelID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountChannels(ctx context.Context, workspaceID string) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workspace_channels WHERE workspace_id = $1`, workspaceID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) TryAcquireSyncLock(ctx context.Context, workspaceID string, staleAfter time.Duration) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Row is created lazily and never deleted afterwards.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_locks (workspace_id, is_locked)
		VALUES ($1, FALSE)
		ON CONFLICT (workspace_id) DO NOTHING`, workspaceID)
	if err != nil {
		return false, err
	}

	var isLocked bool
	var lockedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT is_locked, locked_at FROM sync_locks
		WHERE workspace_id = $1
		FOR UPDATE`, workspaceID).Scan(&isLocked, &lockedAt)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	acquirable := !isLocked || (lockedAt.Valid && now.Sub(lockedAt.Time) > staleAfter)
	if acquirable {
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_locks SET is_locked = TRUE, locked_at = $1
			WHERE workspace_id = $2`, now, workspaceID)
		if err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return acquirable, nil
}

func (s *PostgresStore) ReleaseSyncLock(ctx context.Context, workspaceID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	// Releasing a missing or unlocked row is a no-op.
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_locks SET is_locked = FALSE, locked_at = NULL
		WHERE workspace_id = $1`, workspaceID)
	return err
}

func (s *PostgresStore) SyncLockHeld(ctx context.Context, workspaceID string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var isLocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_locked FROM sync_locks WHERE workspace_id = $1`, workspaceID).Scan(&isLocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isLocked, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var record Channel
	err := row.Scan(
		&record.WorkspaceID,
		&record.ChannelID,
		&record.Name,
		&record.IsArchived,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, fmt.Errorf("%w: channel", ErrNotFound)
	}
	if err != nil {
		return Channel{}, err
	}
	return record, nil
}
