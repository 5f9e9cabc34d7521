// Package er defines the broker's error-kind taxonomy: a context-tagged
// wrapper around a small set of sentinel errors, checked with errors.Is at
// the call sites that need to branch on kind (the connection loop's
// read-more-on-ErrInsufficientBytes retry, and the tests).
package er

import (
	"errors"
	"fmt"
)

// Err pairs a sentinel Message with the Context it occurred in, so logs and
// errors.Is checks both work off the same value.
type Err struct {
	Context string
	Message error
}

func (e *Err) Error() string {
	return fmt.Sprintf("context: %s, message: %v", e.Context, e.Message)
}

func (e *Err) Unwrap() error {
	return e.Message
}

// Codec errors. InsufficientBytes is the single recoverable
// kind — everything else is fatal for the connection.
var (
	ErrInsufficientBytes   = errors.New("insufficient bytes")
	ErrMalformedPacket     = errors.New("malformed packet")
	ErrInvalidPacketType   = errors.New("invalid packet type")
	ErrInvalidQoS          = errors.New("invalid qos level")
	ErrMalformedString     = errors.New("malformed utf-8 string")
	ErrPayloadRequired     = errors.New("payload required")
	ErrMissPacketID        = errors.New("missing or zero packet id")
	ErrInvalidPublishTopic = errors.New("invalid publish topic")
	ErrInvalidSubFilter    = errors.New("invalid subscribe filter")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrNoFilters           = errors.New("subscribe/unsubscribe payload has no filters")
	ErrReservedFlags       = errors.New("reserved fixed-header flags set incorrectly")
)

// Connect-specific errors. ErrClientIDNotAllowed is raised by the connection
// loop, which answers it with CONNACK IdentifierRejected; the others come
// from the CONNECT decoder, and the connection loop closes on them without
// sending a CONNACK.
var (
	ErrClientIDNotAllowed       = errors.New("empty client id requires clean session")
	ErrInvalidWillQoS           = errors.New("will qos level is invalid")
	ErrPasswordWithoutUsername  = errors.New("password present without username")
	ErrUnsupportedProtocolName  = errors.New("unsupported protocol name")
	ErrUnsupportedProtocolLevel = errors.New("unsupported protocol level")
)

// Connection-loop errors.
var (
	ErrFirstPacketNotConnect = errors.New("first packet was not connect")
	ErrKeepAlive             = errors.New("keep-alive timeout")
	ErrConnectionAborted     = errors.New("connection aborted")
	ErrConnectionReset       = errors.New("connection reset")
	ErrAuthFailed            = errors.New("authentication failed")
)

// Router errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnexpectedPacket = errors.New("unexpected packet for router dispatch")
	ErrSendOutgoing     = errors.New("outbound channel closed or full")
)

// Transport errors.
var (
	ErrConnectionLimitReached = errors.New("connection limit reached")
)

// Auth errors (internal/auth, pkg/hash).
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrHashFailed      = errors.New("failed to hash password")
)
