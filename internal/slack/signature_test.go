package slack

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerifySignatureAcceptsValidRequest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"type":"event_callback"}`)
	signature := SignBody("secret", timestamp, body)

	if err := VerifySignature("secret", timestamp, signature, body, 5*time.Minute, now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"type":"event_callback"}`)
	signature := SignBody("secret", timestamp, body)

	tampered := append([]byte(nil), body...)
	tampered[0] ^= 0x01
	err := VerifySignature("secret", timestamp, signature, tampered, 5*time.Minute, now)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * time.Minute)
	timestamp := strconv.FormatInt(old.Unix(), 10)
	body := []byte(`{}`)
	signature := SignBody("secret", timestamp, body)

	err := VerifySignature("secret", timestamp, signature, body, 5*time.Minute, now)
	if !errors.Is(err, ErrSignatureTimestampStale) {
		t.Fatalf("expected stale rejection, got %v", err)
	}
}

func TestVerifySignatureRejectsMissingInputs(t *testing.T) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{}`)
	signature := SignBody("secret", timestamp, body)

	if err := VerifySignature("", timestamp, signature, body, 0, now); !errors.Is(err, ErrSignatureSecretMissing) {
		t.Fatalf("expected missing secret rejection, got %v", err)
	}
	if err := VerifySignature("secret", "", signature, body, 0, now); !errors.Is(err, ErrSignatureHeaderMissing) {
		t.Fatalf("expected missing timestamp rejection, got %v", err)
	}
	if err := VerifySignature("secret", timestamp, "", body, 0, now); !errors.Is(err, ErrSignatureHeaderMissing) {
		t.Fatalf("expected missing signature rejection, got %v", err)
	}
	if err := VerifySignature("secret", "not-a-number", signature, body, 0, now); !errors.Is(err, ErrSignatureTimestampBad) {
		t.Fatalf("expected bad timestamp rejection, got %v", err)
	}
}

func TestVerifySignatureRejectsExtremeTimestamps(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{}`)
	for _, timestamp := range []string{
		"9223372036854775807",  // max int64
		"-9223372036854775808", // min int64
	} {
		signature := SignBody("secret", timestamp, body)
		err := VerifySignature("secret", timestamp, signature, body, 5*time.Minute, now)
		if !errors.Is(err, ErrSignatureTimestampStale) {
			t.Fatalf("timestamp %s: expected stale rejection, got %v", timestamp, err)
		}
	}
}

func TestVerifySignatureToleratesFutureSkewWithinWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(2 * time.Minute)
	timestamp := strconv.FormatInt(future.Unix(), 10)
	body := []byte(`{}`)
	signature := SignBody("secret", timestamp, body)

	if err := VerifySignature("secret", timestamp, signature, body, 5*time.Minute, now); err != nil {
		t.Fatalf("expected future skew within tolerance to pass, got %v", err)
	}
}
