package transport

import (
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

var (
	HTTPPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return http.NewPublisher(cfg, logger)
	}
	HTTPSubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return http.NewSubscriber(addr, cfg, logger)
	}
)

// httpServerStarter is satisfied by the watermill HTTP subscriber.
type httpServerStarter interface {
	StartHTTPServer() error
}

// httpTransport accepts POSTs on /<topic>. Routes are added by Subscribe, so
// the listener is only started by Transport.Serve once every endpoint topic
// is subscribed.
func httpTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	base := strings.TrimSuffix(conf.HTTPPublisherURL, "/") + "/"
	publisher, err := HTTPPublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(base+strings.TrimPrefix(topic, "/"), msg)
		},
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := HTTPSubscriberFactory(conf.HTTPServerAddress, http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}

	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Serve starts the inbound HTTP listener when the subscriber has one. Call it
// after all Subscribe calls. It returns immediately.
func (t Transport) Serve(logger watermill.LoggerAdapter) {
	starter, ok := t.Subscriber.(httpServerStarter)
	if !ok {
		return
	}
	go func() {
		if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("HTTP subscriber server stopped", err, nil)
		}
	}()
}
