package events

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jha-hitesh/slack-channels-proxy/internal/slack"
	"github.com/jha-hitesh/slack-channels-proxy/internal/store"
)

const testSecret = "signing-secret"

func newTestIngester(t *testing.T) (*Ingester, *store.MemoryStore, time.Time) {
	t.Helper()
	st := store.NewMemoryStore()
	ingester := NewIngester(st, testSecret, 5*time.Minute, zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ingester.now = func() time.Time { return now }
	return ingester, st, now
}

func signedHeaders(body []byte, now time.Time) (string, string) {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	return timestamp, slack.SignBody(testSecret, timestamp, body)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ingester, _, now := newTestIngester(t)
	body := []byte(`{"type":"event_callback"}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	_, err := ingester.Ingest(context.Background(), body, timestamp, "v0=deadbeef")
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
}

func TestIngestEchoesURLVerificationChallenge(t *testing.T) {
	ingester, _, now := newTestIngester(t)
	body := []byte(`{"type":"url_verification","challenge":"tok_abc123"}`)
	timestamp, signature := signedHeaders(body, now)

	result, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.Challenge != "tok_abc123" {
		t.Fatalf("expected challenge echoed, got %q", result.Challenge)
	}
}

func TestIngestIgnoresUnknownEnvelopeType(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	body := []byte(`{"type":"app_rate_limited","team_id":"T1"}`)
	timestamp, signature := signedHeaders(body, now)

	result, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if err != nil {
		t.Fatalf("expected unknown envelope to ack as no-op, got %v", err)
	}
	if result.Applied || result.Challenge != "" {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if count, _ := st.CountChannels(context.Background(), "T1"); count != 0 {
		t.Fatalf("expected no mutation, got %d rows", count)
	}
}

func TestIngestRejectsEnvelopeMissingEventType(t *testing.T) {
	ingester, _, now := newTestIngester(t)
	body := []byte(`{"type":"event_callback","team_id":"T1","event":{}}`)
	timestamp, signature := signedHeaders(body, now)

	_, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected schema rejection, got %v", err)
	}
}

func TestIngestAppliesChannelCreated(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_created","channel":{"id":"C100","name":"New-Channel","is_archived":false}}
	}`)
	timestamp, signature := signedHeaders(body, now)

	result, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected event applied")
	}
	record, err := st.GetChannelByName(context.Background(), "T1", "new-channel")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if record.ChannelID != "C100" {
		t.Fatalf("expected C100, got %q", record.ChannelID)
	}
}

func TestIngestIsIdempotentOnReplay(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_created","channel":{"id":"C100","name":"general","is_archived":false}}
	}`)
	timestamp, signature := signedHeaders(body, now)

	ctx := context.Background()
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := ingester.Ingest(ctx, body, timestamp, signature); err != nil {
			t.Fatalf("ingest %d failed: %v", attempt, err)
		}
	}
	count, _ := st.CountChannels(ctx, "T1")
	if count != 1 {
		t.Fatalf("expected exactly one row after replay, got %d", count)
	}
}

func TestRenameThenDeleteSequence(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	ctx := context.Background()

	if _, err := st.UpsertChannel(ctx, "T1", "C100", "old-name", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	renameBody := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_rename","channel":{"id":"C100","name":"fresh-name"}}
	}`)
	timestamp, signature := signedHeaders(renameBody, now)
	if _, err := ingester.Ingest(ctx, renameBody, timestamp, signature); err != nil {
		t.Fatalf("rename ingest failed: %v", err)
	}
	renamed, err := st.GetChannelByName(ctx, "T1", "fresh-name")
	if err != nil {
		t.Fatalf("expected renamed record, got %v", err)
	}
	if renamed.IsArchived {
		t.Fatalf("rename must not change the archived flag")
	}
	if count, _ := st.CountChannels(ctx, "T1"); count != 1 {
		t.Fatalf("rename created a duplicate row")
	}

	deleteBody := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_deleted","channel":"C100"}
	}`)
	timestamp, signature = signedHeaders(deleteBody, now)
	if _, err := ingester.Ingest(ctx, deleteBody, timestamp, signature); err != nil {
		t.Fatalf("delete ingest failed: %v", err)
	}
	archived, err := st.GetChannelByName(ctx, "T1", "fresh-name")
	if err != nil {
		t.Fatalf("expected archived record to keep its name, got %v", err)
	}
	if !archived.IsArchived {
		t.Fatalf("expected archived flag set")
	}
}

func TestRenameKeepsArchivedChannelArchived(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	ctx := context.Background()

	if _, err := st.UpsertChannel(ctx, "T1", "C100", "old-name", true); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_rename","channel":{"id":"C100","name":"fresh-name"}}
	}`)
	timestamp, signature := signedHeaders(body, now)
	if _, err := ingester.Ingest(ctx, body, timestamp, signature); err != nil {
		t.Fatalf("rename ingest failed: %v", err)
	}

	record, err := st.GetChannelByName(ctx, "T1", "fresh-name")
	if err != nil {
		t.Fatalf("expected renamed record, got %v", err)
	}
	if !record.IsArchived {
		t.Fatalf("rename cleared the archived flag")
	}
}

func TestRenameReplayedAfterDeleteDoesNotResurrect(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	ctx := context.Background()

	if _, err := st.UpsertChannel(ctx, "T1", "C100", "doomed", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	deleteBody := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_deleted","channel":"C100"}
	}`)
	timestamp, signature := signedHeaders(deleteBody, now)
	if _, err := ingester.Ingest(ctx, deleteBody, timestamp, signature); err != nil {
		t.Fatalf("delete ingest failed: %v", err)
	}

	// A rename delivered late, after the deletion was already applied.
	renameBody := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_rename","channel":{"id":"C100","name":"doomed-renamed"}}
	}`)
	timestamp, signature = signedHeaders(renameBody, now)
	if _, err := ingester.Ingest(ctx, renameBody, timestamp, signature); err != nil {
		t.Fatalf("late rename ingest failed: %v", err)
	}

	record, err := st.GetChannelByName(ctx, "T1", "doomed-renamed")
	if err != nil {
		t.Fatalf("expected renamed record, got %v", err)
	}
	if !record.IsArchived {
		t.Fatalf("late rename resurrected a deleted channel")
	}
}

func TestRenameForUnknownChannelInsertsRow(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	ctx := context.Background()

	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_rename","channel":{"id":"C200","name":"never-seen"}}
	}`)
	timestamp, signature := signedHeaders(body, now)
	if _, err := ingester.Ingest(ctx, body, timestamp, signature); err != nil {
		t.Fatalf("rename ingest failed: %v", err)
	}

	record, err := st.GetChannelByName(ctx, "T1", "never-seen")
	if err != nil {
		t.Fatalf("expected rename of unknown channel to backfill the cache, got %v", err)
	}
	if record.ChannelID != "C200" || record.IsArchived {
		t.Fatalf("unexpected backfilled record: %+v", record)
	}
}

func TestDeleteForUnknownChannelIsSilentNoOp(t *testing.T) {
	ingester, _, now := newTestIngester(t)
	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"channel_deleted","channel":"C404"}
	}`)
	timestamp, signature := signedHeaders(body, now)

	result, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if result.Applied {
		t.Fatalf("expected nothing applied for unknown channel")
	}
}

func TestIngestIgnoresUnrelatedEventTypes(t *testing.T) {
	ingester, st, now := newTestIngester(t)
	body := []byte(`{
		"type":"event_callback","team_id":"T1",
		"event":{"type":"member_joined_channel","channel":"C100"}
	}`)
	timestamp, signature := signedHeaders(body, now)

	result, err := ingester.Ingest(context.Background(), body, timestamp, signature)
	if err != nil {
		t.Fatalf("expected unrelated event to ack as no-op, got %v", err)
	}
	if result.Applied {
		t.Fatalf("expected no application")
	}
	if count, _ := st.CountChannels(context.Background(), "T1"); count != 0 {
		t.Fatalf("expected no mutation")
	}
}
