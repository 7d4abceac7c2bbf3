package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

var (
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

// DefaultKafkaConsumerGroup is used when the config leaves the group empty, so
// replicas of the service share partitions instead of each reading everything.
const DefaultKafkaConsumerGroup = "dispatchkit"

func kafkaTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	marshaler := kafka.DefaultMarshaler{}

	publisher, err := KafkaPublisherFactory(kafka.PublisherConfig{
		Brokers:   conf.KafkaBrokers,
		Marshaler: marshaler,
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	group := conf.KafkaConsumerGroup
	if group == "" {
		group = DefaultKafkaConsumerGroup
	}
	subscriber, err := KafkaSubscriberFactory(kafka.SubscriberConfig{
		Brokers:       conf.KafkaBrokers,
		Unmarshaler:   marshaler,
		ConsumerGroup: group,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
