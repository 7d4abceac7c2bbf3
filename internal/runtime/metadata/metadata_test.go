package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/dispatchkit/internal/runtime/ids"
)

func TestEnsureCorrelationID(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	id := EnsureCorrelationID(msg)

	require.NotEmpty(t, id)
	_, err := ids.CreatedAt(id)
	assert.NoError(t, err)
	assert.Equal(t, id, msg.Metadata.Get(KeyCorrelationID))
	assert.Equal(t, id, EnsureCorrelationID(msg))

	preset := &message.Message{UUID: "x"}
	preset.Metadata = New(KeyCorrelationID, "upstream")
	assert.Equal(t, "upstream", EnsureCorrelationID(preset))

	bare := &message.Message{UUID: "y"}
	assert.NotEmpty(t, EnsureCorrelationID(bare))
}

func TestStampDispatch(t *testing.T) {
	msg := &message.Message{UUID: "z"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.FixedZone("CET", 3600))

	StampDispatch(msg, "minor", at)

	assert.Equal(t, "minor", msg.Metadata.Get(KeyEndpoint))
	assert.True(t, at.Equal(DispatchedAt(msg.Metadata)))
	assert.True(t, DispatchedAt(message.Metadata{}).IsZero())
	assert.True(t, DispatchedAt(New(KeyDispatchedAt, "yesterday")).IsZero())
}

func TestSnapshotAndNew(t *testing.T) {
	md := New("a", "1", "b", "2", "dangling")
	assert.Equal(t, message.Metadata{"a": "1", "b": "2"}, md)

	cp := Snapshot(md)
	cp["a"] = "changed"
	assert.Equal(t, "1", md["a"])
	assert.Equal(t, message.Metadata{}, Snapshot(nil))
}
