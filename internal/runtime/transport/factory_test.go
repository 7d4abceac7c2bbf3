package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/dispatchkit/internal/runtime/config"
	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
)

func TestDefaultFactory_Channel(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "Channel"}, capture)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, "channel", tr.Capabilities.Name)
	assert.True(t, tr.Capabilities.SupportsNack)
	assert.True(t, capture.Has(watermill.CapturedMessage{
		Level:  watermill.InfoLogLevel,
		Fields: watermill.LogFields{"pubsub_system": "channel"},
		Msg:    "Transport ready",
	}))

	messages, err := tr.Subscriber.Subscribe(context.Background(), "orders")
	require.NoError(t, err)

	sent := message.NewMessage(watermill.NewUUID(), []byte("payload"))
	go func() { _ = tr.Publisher.Publish("orders", sent) }()

	select {
	case got := <-messages:
		assert.Equal(t, sent.UUID, got.UUID)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestDefaultFactory_Errors(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "smoke-signals"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedSystem)

	_, err = DefaultFactory().Build(context.Background(), &config.Config{}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedSystem)
}

func TestFactoryFunc(t *testing.T) {
	want := Transport{Publisher: &testPublisher{}}
	f := FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		return want, nil
	})
	got, err := f.Build(context.Background(), &config.Config{}, nil)
	require.NoError(t, err)
	assert.Same(t, want.Publisher, got.Publisher)
}

func TestTransportClose(t *testing.T) {
	pub := &testPublisher{}
	sub := &testSubscriber{}
	require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)

	require.NoError(t, Transport{}.Close())
}

func TestTransportServe(t *testing.T) {
	sub := &startableSubscriber{testSubscriber{started: make(chan struct{})}}
	Transport{Subscriber: sub}.Serve(watermill.NopLogger{})

	select {
	case <-sub.started:
	case <-time.After(time.Second):
		t.Fatal("HTTP server was not started")
	}

	assert.NotPanics(t, func() { Transport{Subscriber: &testSubscriber{}}.Serve(watermill.NopLogger{}) })
}

func TestCapabilitiesOf(t *testing.T) {
	for _, system := range Systems() {
		caps := CapabilitiesOf(system)
		assert.Equal(t, system, caps.Name)
		_, known := builders[system]
		assert.True(t, known, system)
	}
	assert.False(t, CapabilitiesOf("http").SupportsNack)
	assert.Equal(t, Capabilities{Name: "unknown"}, CapabilitiesOf("unknown"))
}
