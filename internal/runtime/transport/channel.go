package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

// GoChannelFactory builds the in-process pub/sub. Tests swap it out.
var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// channelTransport keeps publish blocking until the subscriber acks or nacks,
// so a nacked message is redelivered in order.
func channelTransport(_ *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := GoChannelFactory(gochannel.Config{
		OutputChannelBuffer: 0,
		Persistent:          false,
	}, logger)
	return Transport{Publisher: pub, Subscriber: sub}, nil
}
