// Package metadata holds the message metadata keys the dispatcher reads and
// writes, plus helpers for stamping them onto Watermill messages.
package metadata

import (
	"maps"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/dispatchkit/internal/runtime/ids"
)

// Reserved keys. Handlers should not overwrite them.
const (
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"
	// KeyEndpoint records the endpoint a message was dispatched to.
	KeyEndpoint = "dispatchkit_endpoint"
	// KeyDispatchedAt is the RFC 3339 time the pool accepted the message.
	KeyDispatchedAt = "dispatchkit_dispatched_at"
)

// EnsureCorrelationID returns the message's correlation id, generating and
// storing a ULID when none is present.
func EnsureCorrelationID(msg *message.Message) string {
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}
	if id := msg.Metadata.Get(KeyCorrelationID); id != "" {
		return id
	}
	id := ids.CreateULID()
	msg.Metadata.Set(KeyCorrelationID, id)
	return id
}

// StampDispatch records the endpoint and dispatch time on msg.
func StampDispatch(msg *message.Message, endpointID string, at time.Time) {
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}
	msg.Metadata.Set(KeyEndpoint, endpointID)
	msg.Metadata.Set(KeyDispatchedAt, at.UTC().Format(time.RFC3339Nano))
}

// DispatchedAt parses KeyDispatchedAt. The zero time is returned when the key
// is missing or malformed.
func DispatchedAt(md message.Metadata) time.Time {
	t, err := time.Parse(time.RFC3339Nano, md.Get(KeyDispatchedAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Snapshot copies md so hooks can keep it after the handler returns.
func Snapshot(md message.Metadata) message.Metadata {
	if len(md) == 0 {
		return message.Metadata{}
	}
	return maps.Clone(md)
}

// New constructs metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) message.Metadata {
	md := make(message.Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
