package auth

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
)

var (
	// ErrAuthInvalid means the credentials were rejected. Never retried.
	ErrAuthInvalid = errors.New("credentials invalid")
	// ErrAuthTransient means authentication failed on a network or server
	// error and the retry budget ran out.
	ErrAuthTransient = errors.New("authentication temporarily unavailable")
	// ErrOBOIdentity is returned when an OBO session is not given exactly
	// one of user id and username.
	ErrOBOIdentity = errors.New("obo: exactly one of user id or username is required")
)

// classify wraps an authentication call failure with the auth taxonomy.
func classify(op string, err error) error {
	switch {
	case api.IsRetryable(err):
		return fmt.Errorf("%s: %w: %w", op, ErrAuthTransient, err)
	case errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, api.ErrForbidden),
		errors.Is(err, api.ErrClientError),
		errors.Is(err, api.ErrDatafeedStale):
		return fmt.Errorf("%s: %w: %w", op, ErrAuthInvalid, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
