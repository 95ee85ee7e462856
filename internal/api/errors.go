package api

import (
	"errors"
	"fmt"
	"strings"
)

// StaleDatafeedMessage is the fragment the agent puts in a 400 response when
// the datafeed id it was given no longer exists.
const StaleDatafeedMessage = "Could not find a datafeed with the id"

var (
	ErrDatafeedStale = errors.New("datafeed no longer exists")
	ErrClientError   = errors.New("client error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrServer        = errors.New("retryable server error")
	ErrNetwork       = errors.New("retryable network error")
)

// Kind classifies a failed platform call.
type Kind int

const (
	KindClientError Kind = iota
	KindDatafeedStale
	KindUnauthorized
	KindForbidden
	KindServer
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindDatafeedStale:
		return "stale-datafeed"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindServer:
		return "retryable-server"
	case KindNetwork:
		return "retryable-network"
	default:
		return "client-error"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindDatafeedStale:
		return ErrDatafeedStale
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindServer:
		return ErrServer
	case KindNetwork:
		return ErrNetwork
	default:
		return ErrClientError
	}
}

// APIError is returned for every non-2xx response and for transport
// failures. Match it with errors.Is against the sentinels above, or
// extract it with errors.As for the status code and server message.
type APIError struct {
	Kind       Kind
	StatusCode int    // 0 for network failures
	Message    string // server-provided message, if any
	Body       string // first 512 bytes
	Err        error  // underlying network error
}

func (e *APIError) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a 429/5xx or network failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrNetwork)
}

// ClassifyStatus maps an HTTP status and server message to a Kind.
func ClassifyStatus(status int, message string) Kind {
	switch {
	case status == 400:
		if strings.Contains(message, StaleDatafeedMessage) {
			return KindDatafeedStale
		}
		return KindClientError
	case status == 401:
		return KindUnauthorized
	case status == 403 || status == 405:
		return KindForbidden
	case status == 429 || status >= 500:
		return KindServer
	default:
		return KindClientError
	}
}
