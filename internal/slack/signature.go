package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// DefaultSignatureTolerance bounds the replay window for signed events.
const DefaultSignatureTolerance = 5 * time.Minute

// Signature verification failure reasons. They exist for internal
// logging only; callers must surface a single undifferentiated rejection
// so the endpoint does not become a verification oracle.
var (
	ErrSignatureSecretMissing  = errors.New("signing secret is not configured")
	ErrSignatureHeaderMissing  = errors.New("signature headers are missing")
	ErrSignatureTimestampBad   = errors.New("signature timestamp is not an integer")
	ErrSignatureTimestampStale = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch       = errors.New("signature mismatch")
)

// VerifySignature checks a signed event request: the signature header
// must equal "v0=" + hex(HMAC-SHA256(secret, "v0:<timestamp>:<body>"))
// and the timestamp must fall within tolerance of now. The comparison is
// constant time and is skipped entirely when any precondition fails.
func VerifySignature(secret, timestamp, signature string, body []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrSignatureSecretMissing
	}
	if timestamp == "" || signature == "" {
		return ErrSignatureHeaderMissing
	}
	requestTS, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureTimestampBad
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	// Compare in whole seconds so extreme timestamp values cannot wrap
	// a Duration conversion past the window.
	limit := int64(tolerance / time.Second)
	nowUnix := now.Unix()
	if requestTS < nowUnix-limit || requestTS > nowUnix+limit {
		return ErrSignatureTimestampStale
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + timestamp + ":"))
	_, _ = mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignBody computes the signature header value for a timestamp and body.
// Used by tests and local tooling to produce valid requests.
func SignBody(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + timestamp + ":"))
	_, _ = mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
