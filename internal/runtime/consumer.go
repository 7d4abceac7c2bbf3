package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
	transportpkg "github.com/drblury/dispatchkit/internal/runtime/transport"
)

// consumer feeds one endpoint topic into the dispatcher. Messages are acked
// as soon as a worker takes them; the handler's outcome is not reported back
// to the broker.
type consumer struct {
	endpointID   string
	topic        string
	dispatcher   *Dispatcher
	nackRejected bool
	logger       loggingpkg.ServiceLogger
}

func newConsumer(endpointID, topic string, d *Dispatcher, nackRejected bool, caps transportpkg.Capabilities, logger loggingpkg.ServiceLogger) *consumer {
	log := logger.With(loggingpkg.LogFields{"endpoint": endpointID, "topic": topic})
	if nackRejected && !caps.SupportsNack {
		log.Info("Transport does not redeliver nacked messages, rejected messages will be dropped", loggingpkg.LogFields{
			"pubsub_system": caps.Name,
		})
		nackRejected = false
	}
	return &consumer{
		endpointID:   endpointID,
		topic:        topic,
		dispatcher:   d,
		nackRejected: nackRejected,
		logger:       log,
	}
}

// run consumes until ctx is done or the subscription closes.
func (c *consumer) run(ctx context.Context, messages <-chan *message.Message) error {
	c.logger.Info("Consuming endpoint topic", nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				c.logger.Info("Subscription closed", nil)
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *consumer) handle(msg *message.Message) {
	admission, err := c.dispatcher.Dispatch(c.endpointID, msg)
	switch {
	case err != nil:
		c.logger.Error("Dispatch failed, nacking message", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		msg.Nack()
	case admission == pool.Accepted:
		msg.Ack()
	case c.nackRejected:
		msg.Nack()
	default:
		msg.Ack()
	}
}
