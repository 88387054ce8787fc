// Package channels implements the read-through/write-through cache
// policy over the channel store, the remote client, and the sync lock.
package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jha-hitesh/slack-channels-proxy/internal/names"
	"github.com/jha-hitesh/slack-channels-proxy/internal/slack"
	"github.com/jha-hitesh/slack-channels-proxy/internal/store"
)

// ErrWorkspaceResolution means the workspace behind a token could not be
// determined via the identity endpoint.
var ErrWorkspaceResolution = errors.New("unable to resolve workspace from slack token")

// Sync status values surfaced to callers.
const (
	SyncStatusQueued     = "sync_queued"
	SyncStatusInProgress = "sync_in_progress"
)

const defaultLockStaleAfter = 10 * time.Minute

// ChannelIterator is the forward-only page stream the remote client
// produces for a full listing.
type ChannelIterator interface {
	Next() bool
	Channel() slack.ChannelDescriptor
	Err() error
}

// API is the remote surface the orchestrator consumes.
type API interface {
	ListChannels(ctx context.Context) ChannelIterator
	CreateChannel(ctx context.Context, name string) (slack.ChannelDescriptor, error)
	AuthTest(ctx context.Context) (slack.Identity, error)
}

// APIFactory builds an API bound to one bearer token. Deployments that
// authenticate per request construct a client per call; fixed-token
// deployments always pass the configured token.
type APIFactory func(token string) API

type slackAPI struct {
	client *slack.Client
}

func (a slackAPI) ListChannels(ctx context.Context) ChannelIterator {
	return a.client.ListChannels(ctx)
}

func (a slackAPI) CreateChannel(ctx context.Context, name string) (slack.ChannelDescriptor, error) {
	return a.client.CreateChannel(ctx, name)
}

func (a slackAPI) AuthTest(ctx context.Context) (slack.Identity, error) {
	return a.client.AuthTest(ctx)
}

// NewSlackAPIFactory builds the production APIFactory over the HTTP
// Slack client.
func NewSlackAPIFactory(baseURL string, timeout time.Duration, maxRateLimitRetries int) APIFactory {
	httpClient := &http.Client{Timeout: timeout}
	return func(token string) API {
		return slackAPI{client: slack.NewClient(slack.ClientOptions{
			BaseURL:             baseURL,
			Token:               token,
			HTTPClient:          httpClient,
			MaxRateLimitRetries: maxRateLimitRetries,
		})}
	}
}

// CreateOutcome is the closed set of create results. Both "sync queued"
// and "sync in progress" are valid states of an eventually consistent
// cache, not errors.
type CreateOutcome int

const (
	OutcomeCreated CreateOutcome = iota
	OutcomeExistsCached
	OutcomeExistsSyncQueued
	OutcomeExistsSyncInProgress
)

// CreateResult pairs the outcome with the record when one is available
// (Created and ExistsCached).
type CreateResult struct {
	Outcome CreateOutcome
	Channel store.Channel
}

// LookupResult is a cache hit with a non-blocking view of whether a
// resync is believed to be running.
type LookupResult struct {
	Channel        store.Channel
	SyncInProgress bool
}

type Options struct {
	Store store.Store

	// NewAPI builds the remote client for a token.
	NewAPI APIFactory

	// WorkspaceID pins the deployment to one workspace. When empty, the
	// workspace is resolved per request through the identity endpoint.
	WorkspaceID string

	// BotToken authenticates upstream calls. When empty, the caller's
	// bearer token is forwarded instead.
	BotToken string

	LockStaleAfter time.Duration
	Logger         *zap.Logger
}

type Service struct {
	store          store.Store
	newAPI         APIFactory
	workspaceID    string
	botToken       string
	lockStaleAfter time.Duration
	logger         *zap.Logger

	syncs sync.WaitGroup
}

func NewService(opts Options) *Service {
	lockStaleAfter := opts.LockStaleAfter
	if lockStaleAfter <= 0 {
		lockStaleAfter = defaultLockStaleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          opts.Store,
		newAPI:         opts.NewAPI,
		workspaceID:    opts.WorkspaceID,
		botToken:       opts.BotToken,
		lockStaleAfter: lockStaleAfter,
		logger:         logger,
	}
}

// effectiveToken prefers the configured process token over the caller's.
func (s *Service) effectiveToken(callerToken string) string {
	if s.botToken != "" {
		return s.botToken
	}
	return callerToken
}

// ResolveWorkspace returns the configured workspace id, or asks the
// identity endpoint which workspace the token belongs to.
func (s *Service) ResolveWorkspace(ctx context.Context, callerToken string) (string, error) {
	if s.workspaceID != "" {
		return s.workspaceID, nil
	}
	identity, err := s.newAPI(s.effectiveToken(callerToken)).AuthTest(ctx)
	if err != nil {
		if errors.Is(err, slack.ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrWorkspaceResolution, err)
	}
	workspaceID := identity.WorkspaceID()
	if workspaceID == "" {
		return "", ErrWorkspaceResolution
	}
	return workspaceID, nil
}

// Lookup answers from the cache only; a miss returns store.ErrNotFound
// and never triggers a sync by itself.
func (s *Service) Lookup(ctx context.Context, workspaceID, name string) (LookupResult, error) {
	record, err := s.store.GetChannelByName(ctx, workspaceID, name)
	if err != nil {
		return LookupResult{}, err
	}
	held, err := s.store.SyncLockHeld(ctx, workspaceID)
	if err != nil {
		// Status is advisory; a hit still counts.
		s.logger.Warn("sync_status_unavailable", zap.String("workspace_id", workspaceID), zap.Error(err))
		held = false
	}
	return LookupResult{Channel: record, SyncInProgress: held}, nil
}

// SyncStatus reports whether a resync is currently believed to be
// running, ignoring staleness for display purposes.
func (s *Service) SyncStatus(ctx context.Context, workspaceID string) (string, error) {
	held, err := s.store.SyncLockHeld(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if held {
		return SyncStatusInProgress, nil
	}
	return "", nil
}

// Create creates the channel upstream and writes it through to the
// cache. A remote name collision is reconciled against the cache; when
// the cache has no record either, a deduplicated background resync is
// scheduled.
func (s *Service) Create(ctx context.Context, workspaceID, name, callerToken string) (CreateResult, error) {
	normalized := names.Normalize(name)
	token := s.effectiveToken(callerToken)
	api := s.newAPI(token)

	descriptor, err := api.CreateChannel(ctx, normalized)
	if err == nil {
		record, upsertErr := s.store.UpsertChannel(ctx, workspaceID, descriptor.ID, descriptor.Name, descriptor.IsArchived)
		if upsertErr != nil {
			return CreateResult{}, upsertErr
		}
		s.logger.Info("channel_created",
			zap.String("workspace_id", workspaceID),
			zap.String("channel_id", record.ChannelID),
			zap.String("name", record.Name),
		)
		return CreateResult{Outcome: OutcomeCreated, Channel: record}, nil
	}
	if !errors.Is(err, slack.ErrAlreadyExists) {
		return CreateResult{}, err
	}

	// The remote and the cache can race: another instance may have just
	// synced this channel in.
	existing, lookupErr := s.store.GetChannelByName(ctx, workspaceID, normalized)
	if lookupErr == nil {
		return CreateResult{Outcome: OutcomeExistsCached, Channel: existing}, nil
	}
	if !errors.Is(lookupErr, store.ErrNotFound) {
		return CreateResult{}, lookupErr
	}

	acquired, lockErr := s.store.TryAcquireSyncLock(ctx, workspaceID, s.lockStaleAfter)
	if lockErr != nil {
		return CreateResult{}, lockErr
	}
	if !acquired {
		return CreateResult{Outcome: OutcomeExistsSyncInProgress}, nil
	}
	s.startBackgroundSync(workspaceID, token)
	return CreateResult{Outcome: OutcomeExistsSyncQueued}, nil
}

// FullResync drains the remote listing and upserts every descriptor. It
// does not touch the lock: lock lifecycle belongs to the caller so the
// same routine serves the deduplicated background path and the
// unconditional startup warm-up.
func (s *Service) FullResync(ctx context.Context, workspaceID, callerToken string) (int, error) {
	api := s.newAPI(s.effectiveToken(callerToken))
	it := api.ListChannels(ctx)

	synced := 0
	for it.Next() {
		descriptor := it.Channel()
		if _, err := s.store.UpsertChannel(ctx, workspaceID, descriptor.ID, descriptor.Name, descriptor.IsArchived); err != nil {
			return synced, err
		}
		synced++
	}
	if err := it.Err(); err != nil {
		return synced, err
	}
	s.logger.Info("channels_synced", zap.String("workspace_id", workspaceID), zap.Int("synced", synced))
	return synced, nil
}

// ResyncIfEmpty runs a full resync only when the workspace has no cached
// rows, so a warm cache is not clobbered on every restart.
func (s *Service) ResyncIfEmpty(ctx context.Context, workspaceID, callerToken string) (bool, int, error) {
	count, err := s.store.CountChannels(ctx, workspaceID)
	if err != nil {
		return false, 0, err
	}
	if count > 0 {
		return false, 0, nil
	}
	synced, err := s.FullResync(ctx, workspaceID, callerToken)
	if err != nil {
		return true, synced, err
	}
	return true, synced, nil
}

// startBackgroundSync runs a full resync outside the request path. The
// caller must already hold the sync lock; the lock is released on every
// exit path so a failed sync never leaves a phantom holder behind.
func (s *Service) startBackgroundSync(workspaceID, token string) {
	s.syncs.Add(1)
	go func() {
		defer s.syncs.Done()
		ctx := context.Background()
		defer func() {
			if err := s.store.ReleaseSyncLock(ctx, workspaceID); err != nil {
				s.logger.Error("sync_lock_release_failed", zap.String("workspace_id", workspaceID), zap.Error(err))
			}
		}()

		synced, err := s.FullResync(ctx, workspaceID, token)
		if err != nil {
			s.logger.Error("background_channel_sync_failed",
				zap.String("workspace_id", workspaceID),
				zap.Int("synced", synced),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("background_channel_sync_completed",
			zap.String("workspace_id", workspaceID),
			zap.Int("synced", synced),
		)
	}()
}

// Wait blocks until all in-flight background syncs finish. Used during
// graceful shutdown.
func (s *Service) Wait() {
	s.syncs.Wait()
}
