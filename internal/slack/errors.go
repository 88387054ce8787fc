package slack

import (
	"errors"
	"fmt"
)

// Closed failure taxonomy for upstream calls. Callers match with
// errors.Is; everything the Slack API can do wrong collapses into one of
// these.
var (
	// ErrUpstream covers any remote failure that is not one of the more
	// specific categories below, including transport errors.
	ErrUpstream = errors.New("slack upstream request failed")

	// ErrUnauthorized means the token was rejected. Not retried.
	ErrUnauthorized = errors.New("slack token is invalid or unauthorized")

	// ErrAlreadyExists means the remote reported a name collision on
	// channel creation.
	ErrAlreadyExists = errors.New("slack channel already exists")

	// ErrRateLimited is the exhausted-retries sub-reason of ErrUpstream.
	ErrRateLimited = fmt.Errorf("%w: rate limit retries exhausted", ErrUpstream)
)

// APIError carries the textual error code Slack returns in an
// otherwise-200 response body. It unwraps to ErrUpstream.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack api returned error: %s", e.Code)
}

func (e *APIError) Unwrap() error {
	return ErrUpstream
}

var unauthorizedCodes = map[string]struct{}{
	"invalid_auth":     {},
	"not_authed":       {},
	"account_inactive": {},
	"token_revoked":    {},
}

var alreadyExistsCodes = map[string]struct{}{
	"name_taken":     {},
	"already_exists": {},
}

func translateErrorCode(code string) error {
	if code == "" {
		code = "unknown_error"
	}
	if _, ok := unauthorizedCodes[code]; ok {
		return fmt.Errorf("%w (%s)", ErrUnauthorized, code)
	}
	if _, ok := alreadyExistsCodes[code]; ok {
		return fmt.Errorf("%w (%s)", ErrAlreadyExists, code)
	}
	return &APIError{Code: code}
}
