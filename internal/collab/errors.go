package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the connection presented a missing or invalid credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization is the parent of every access denial.
	ErrAuthorization = errors.New("not authorized")

	// ErrReadDenied means the user can neither own nor see the note.
	ErrReadDenied = fmt.Errorf("%w: read access denied", ErrAuthorization)

	// ErrWriteDenied means the user may read the note but not change it.
	ErrWriteDenied = fmt.Errorf("%w: write access denied", ErrAuthorization)

	// ErrUpstreamUnavailable means an access check could not reach the note store.
	// The request is refused.
	ErrUpstreamUnavailable = errors.New("access check unavailable")

	// ErrMalformedEvent means an inbound frame failed schema validation or decoding.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrRateLimited means the connection sent events faster than allowed.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Client-facing messages. Internal error text never reaches a client.
const (
	msgAuthentication = "authentication required"
	msgReadDenied     = "access denied"
	msgWriteDenied    = "you do not have write access to this note"
	msgUnavailable    = "access check unavailable, try again later"
	msgMalformed      = "malformed event"
	msgRateLimited    = "rate limit exceeded"
	msgInternal       = "internal error"
)

// ClientMessage maps an error onto the message sent in an error event.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return msgAuthentication
	case errors.Is(err, ErrWriteDenied):
		return msgWriteDenied
	case errors.Is(err, ErrAuthorization):
		return msgReadDenied
	case errors.Is(err, ErrUpstreamUnavailable):
		return msgUnavailable
	case errors.Is(err, ErrMalformedEvent):
		return msgMalformed
	case errors.Is(err, ErrRateLimited):
		return msgRateLimited
	default:
		return msgInternal
	}
}

// denialReason is the metric label for a refused event.
func denialReason(err error) string {
	switch {
	case errors.Is(err, ErrWriteDenied):
		return "write_denied"
	case errors.Is(err, ErrReadDenied):
		return "read_denied"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
