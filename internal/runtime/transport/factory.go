// Package transport builds the publisher/subscriber pair that feeds endpoint
// topics into the dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/dispatchkit/internal/runtime/config"
	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
)

// ErrUnsupportedSystem is returned for a PubSubSystem no builder knows.
var ErrUnsupportedSystem = errors.New("dispatchkit: unsupported pubsub system")

// Transport is a connected publisher/subscriber pair.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities Capabilities
}

// Close closes the subscriber and then the publisher. A pub/sub that plays
// both roles is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !sameObject(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func sameObject(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	other, ok := sub.(message.Publisher)
	return ok && other == pub
}

// Factory abstracts how a Service obtains its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

type builder func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

var builders = map[string]builder{
	"channel": func(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return channelTransport(conf, logger)
	},
	"kafka": func(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return kafkaTransport(conf, logger)
	},
	"rabbitmq": func(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return rabbitTransport(conf, logger)
	},
	"nats": func(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return natsTransport(conf, logger)
	},
	"http": func(_ context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return httpTransport(conf, logger)
	},
	"aws": awsTransport,
}

// Systems lists the PubSubSystem values DefaultFactory understands.
func Systems() []string {
	return []string{"aws", "channel", "http", "kafka", "nats", "rabbitmq"}
}

// DefaultFactory selects a builder from conf.PubSubSystem.
func DefaultFactory() Factory {
	return FactoryFunc(buildDefault)
}

func buildDefault(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	system := strings.ToLower(conf.PubSubSystem)
	build, ok := builders[system]
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q", ErrUnsupportedSystem, conf.PubSubSystem)
	}

	t, err := build(ctx, conf, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", system, err)
	}
	t.Capabilities = CapabilitiesOf(system)
	logger.Info("Transport ready", watermill.LogFields{"pubsub_system": system})
	return t, nil
}
