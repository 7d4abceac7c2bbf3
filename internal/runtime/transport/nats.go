package transport

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

var (
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}
	NATSSubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

const natsClientName = "dispatchkit"

// natsConnectOptions keeps the client reconnecting instead of failing the
// consumers when the server restarts.
func natsConnectOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(natsClientName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	}
}

func natsTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	marshaler := &nats.NATSMarshaler{}

	publisher, err := NATSPublisherFactory(nats.PublisherConfig{
		URL:         conf.NATSURL,
		NatsOptions: natsConnectOptions(),
		Marshaler:   marshaler,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := NATSSubscriberFactory(nats.SubscriberConfig{
		URL:         conf.NATSURL,
		NatsOptions: natsConnectOptions(),
		Unmarshaler: marshaler,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
