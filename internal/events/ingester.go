// Package events turns signed Slack push notifications into idempotent
// cache mutations. It depends on the channel store only: the pull-based
// sync path and its lock are never involved.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jha-hitesh/slack-channels-proxy/internal/slack"
	"github.com/jha-hitesh/slack-channels-proxy/internal/store"
)

const envelopeTypeEventCallback = "event_callback"
const envelopeTypeURLVerification = "url_verification"

// ErrSignatureInvalid is the single rejection callers see for any
// verification failure; the specific reason is logged internally only.
var ErrSignatureInvalid = errors.New("invalid slack request signature")

// ErrInvalidPayload is returned for bodies that are not valid JSON or
// event_callback envelopes that fail schema validation.
var ErrInvalidPayload = errors.New("invalid event payload")

// Result reports how an ingested request was handled. Challenge is set
// only for the url_verification handshake and must be echoed verbatim.
type Result struct {
	Challenge string
	Applied   bool
}

type Ingester struct {
	store         store.ChannelStore
	signingSecret string
	tolerance     time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewIngester(channelStore store.ChannelStore, signingSecret string, tolerance time.Duration, logger *zap.Logger) *Ingester {
	if tolerance <= 0 {
		tolerance = slack.DefaultSignatureTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:         channelStore,
		signingSecret: signingSecret,
		tolerance:     tolerance,
		logger:        logger,
		now:           time.Now,
	}
}

type envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	TeamID    string          `json:"team_id"`
	Event     json.RawMessage `json:"event"`
}

type channelEvent struct {
	Type    string          `json:"type"`
	Channel json.RawMessage `json:"channel"`
}

type channelPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
}

// Ingest verifies the request signature and applies the carried event.
// Unknown envelope and event types acknowledge as no-ops.
func (i *Ingester) Ingest(ctx context.Context, body []byte, timestamp, signature string) (Result, error) {
	if err := slack.VerifySignature(i.signingSecret, timestamp, signature, body, i.tolerance, i.now()); err != nil {
		i.logger.Info("slack_signature_rejected", zap.String("reason", err.Error()))
		return Result{}, ErrSignatureInvalid
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, ErrInvalidPayload
	}

	switch env.Type {
	case envelopeTypeURLVerification:
		i.logger.Info("slack_url_verification_received")
		return Result{Challenge: env.Challenge}, nil
	case envelopeTypeEventCallback:
		// Fall through to event application below.
	default:
		i.logger.Info("slack_event_ignored", zap.String("type", env.Type))
		return Result{}, nil
	}

	if err := validateEventEnvelope(body); err != nil {
		i.logger.Info("slack_event_envelope_invalid", zap.Error(err))
		return Result{}, ErrInvalidPayload
	}

	applied, err := i.applyEvent(ctx, env.TeamID, env.Event)
	if err != nil {
		return Result{}, err
	}
	return Result{Applied: applied}, nil
}

// applyEvent performs the idempotent mutation for one channel event.
// Every branch is a keyed lookup followed by unconditional overwrites,
// so replaying an event converges to the same state.
func (i *Ingester) applyEvent(ctx context.Context, workspaceID string, rawEvent json.RawMessage) (bool, error) {
	var event channelEvent
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return false, ErrInvalidPayload
	}

	switch event.Type {
	case "channel_created":
		var channel channelPayload
		if err := json.Unmarshal(event.Channel, &channel); err != nil || channel.ID == "" {
			return false, ErrInvalidPayload
		}
		record, err := i.store.UpsertChannel(ctx, workspaceID, channel.ID, channel.Name, channel.IsArchived)
		if err != nil {
			return false, err
		}
		i.logger.Info("slack_channel_event_applied",
			zap.String("type", event.Type),
			zap.String("workspace_id", workspaceID),
			zap.String("channel_id", record.ChannelID),
			zap.String("name", record.Name),
		)
		return true, nil
	case "channel_rename":
		var channel channelPayload
		if err := json.Unmarshal(event.Channel, &channel); err != nil || channel.ID == "" {
			return false, ErrInvalidPayload
		}
		// Rename payloads carry no archived flag, so the name is updated
		// in isolation and an archived row stays archived even when the
		// rename arrives out of order.
		record, err := i.store.RenameChannel(ctx, workspaceID, channel.ID, channel.Name)
		if errors.Is(err, store.ErrNotFound) {
			record, err = i.store.UpsertChannel(ctx, workspaceID, channel.ID, channel.Name, false)
		}
		if err != nil {
			return false, err
		}
		i.logger.Info("slack_channel_event_applied",
			zap.String("type", event.Type),
			zap.String("workspace_id", workspaceID),
			zap.String("channel_id", record.ChannelID),
			zap.String("name", record.Name),
		)
		return true, nil
	case "channel_deleted":
		channelID, err := decodeChannelID(event.Channel)
		if err != nil {
			return false, ErrInvalidPayload
		}
		found, err := i.store.ArchiveChannel(ctx, workspaceID, channelID)
		if err != nil {
			return false, err
		}
		// Unknown channel: the cache never knew about it, nothing to
		// reconcile.
		i.logger.Info("slack_channel_event_applied",
			zap.String("type", event.Type),
			zap.String("workspace_id", workspaceID),
			zap.String("channel_id", channelID),
			zap.Bool("matched", found),
		)
		return found, nil
	default:
		i.logger.Info("slack_channel_event_ignored", zap.String("type", event.Type))
		return false, nil
	}
}

// decodeChannelID accepts both shapes Slack uses for deletions: a bare
// id string and an object carrying an id field.
func decodeChannelID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	var channel channelPayload
	if err := json.Unmarshal(raw, &channel); err != nil || channel.ID == "" {
		return "", errors.New("event payload missing channel id")
	}
	return channel.ID, nil
}
