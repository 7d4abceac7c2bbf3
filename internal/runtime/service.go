package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/dispatchkit/internal/runtime/config"
	"github.com/drblury/dispatchkit/internal/runtime/container"
	"github.com/drblury/dispatchkit/internal/runtime/endpoint"
	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	"github.com/drblury/dispatchkit/internal/runtime/instrument"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/metrics"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
	transportpkg "github.com/drblury/dispatchkit/internal/runtime/transport"
)

const (
	// PoolBindingPrefix prefixes the container key of every endpoint pool.
	PoolBindingPrefix = "executor."
	// TransportBindingKey is the container key of the inbound transport.
	TransportBindingKey = "transport"

	// EndpointTag labels every pool's metrics with its endpoint id.
	EndpointTag = configpkg.TagEndpoint
)

// PoolBindingKey returns the container key of the pool serving endpointID.
func PoolBindingKey(endpointID string) string {
	return PoolBindingPrefix + endpointID
}

// ServiceDependencies holds the collaborators a Service can use. Handler or
// Handlers must cover every configured endpoint.
type ServiceDependencies struct {
	// Handler processes messages of endpoints without an entry in Handlers.
	Handler MessageHandler
	// Handlers maps endpoint ids to dedicated handlers.
	Handlers map[string]MessageHandler
	Hooks    JobHooks
	// Registerer receives the executor collectors. Nil creates a private
	// prometheus.Registry; the global default registerer is never used.
	Registerer       prometheus.Registerer
	TransportFactory transportpkg.Factory
	// RejectionHandler replaces the default rejection log of every pool.
	RejectionHandler pool.RejectionHandler
	// Bindings are extra objects managed by the container. Pools among them
	// are instrumented like endpoint pools when they carry a name tag.
	Bindings []container.Binding
}

// Service owns the container, the endpoint pools, the metrics facade and the
// optional transport consumers.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	container  *container.Container
	metrics    *metrics.Registry
	listener   *instrument.Listener
	endpoints  *endpoint.Registry
	dispatcher *Dispatcher
	transport  *transportpkg.Transport
}

// NewService is TryNewService that panics on error, for wiring code that
// cannot continue without a service.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds one pool per endpoint through the
// container, instruments the named ones and seals the endpoint registry.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := checkHandlers(conf, deps); err != nil {
		return nil, err
	}

	log.Info("Creating dispatch service", loggingpkg.LogFields{
		"endpoints":     len(conf.Endpoints),
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:      conf,
		Logger:    log,
		container: container.New(log),
		metrics:   metrics.NewRegistry(deps.Registerer, log),
		endpoints: endpoint.NewRegistry(),
	}
	s.listener = instrument.NewListener(s.metrics, log)
	s.container.AddHook(s.listener.Hook())

	if err := s.bind(conf, deps); err != nil {
		return nil, err
	}
	if err := s.container.Start(ctx); err != nil {
		return nil, s.abort(ctx, err)
	}
	if err := s.registerEndpoints(ctx, conf); err != nil {
		return nil, s.abort(ctx, err)
	}
	s.endpoints.Seal()

	s.dispatcher = NewDispatcher(s.endpoints, deps.Handler, deps.Handlers, deps.Hooks, log)
	return s, nil
}

func checkHandlers(conf *configpkg.Config, deps ServiceDependencies) error {
	if deps.Handler != nil {
		return nil
	}
	var errs []error
	for _, ep := range conf.Endpoints {
		if deps.Handlers[ep.ID] == nil {
			errs = append(errs, &errspkg.EndpointError{EndpointID: ep.ID, Err: errspkg.ErrHandlerRequired})
		}
	}
	return errors.Join(errs...)
}

func (s *Service) bind(conf *configpkg.Config, deps ServiceDependencies) error {
	for _, ep := range conf.Endpoints {
		if err := s.container.Bind(poolBinding(ep, s.Logger, deps.RejectionHandler)); err != nil {
			return err
		}
	}
	for _, b := range deps.Bindings {
		if err := s.container.Bind(b); err != nil {
			return err
		}
	}
	// Bound last so teardown closes it before any pool.
	if conf.PubSubSystem != "" && hasTopics(conf) {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		return s.container.Bind(container.Binding{
			Key: TransportBindingKey,
			Provide: func(ctx context.Context, _ *container.Container) (any, error) {
				t, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(s.Logger))
				if err != nil {
					return nil, err
				}
				s.transport = &t
				return s.transport, nil
			},
		})
	}
	return nil
}

func poolBinding(ep configpkg.EndpointConfig, log loggingpkg.ServiceLogger, onReject pool.RejectionHandler) container.Binding {
	tags := map[string]string{}
	maps.Copy(tags, ep.Tags)
	tags[EndpointTag] = ep.ID

	return container.Binding{
		Key:     PoolBindingKey(ep.ID),
		NameTag: ep.Pool.NameTag,
		Tags:    tags,
		Provide: func(context.Context, *container.Container) (any, error) {
			return pool.New(pool.Config{
				Name:       ep.ID,
				MinWorkers: ep.Pool.MinThreads,
				MaxWorkers: ep.Pool.MaxThreads,
				KeepAlive:  ep.Pool.KeepAlive(),
			},
				pool.WithLogger(log.With(loggingpkg.LogFields{"endpoint": ep.ID})),
				pool.WithRejectionHandler(onReject),
			)
		},
	}
}

func hasTopics(conf *configpkg.Config) bool {
	for _, ep := range conf.Endpoints {
		if ep.Topic != "" {
			return true
		}
	}
	return false
}

func (s *Service) registerEndpoints(ctx context.Context, conf *configpkg.Config) error {
	for _, ep := range conf.Endpoints {
		executor, err := container.Resolve[pool.Executor](ctx, s.container, PoolBindingKey(ep.ID))
		if err != nil {
			return err
		}
		if err := s.endpoints.Register(ep.ID, executor); err != nil {
			return err
		}
	}
	return nil
}

// abort tears down whatever the container built before construction failed.
func (s *Service) abort(ctx context.Context, cause error) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Conf.ShutdownGracePeriod())
	defer cancel()
	if err := s.container.Close(closeCtx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Dispatch submits msg to the pool of endpointID.
func (s *Service) Dispatch(endpointID string, msg *message.Message) (pool.Admission, error) {
	return s.dispatcher.Dispatch(endpointID, msg)
}

// Publish sends messages to topic over the configured transport.
func (s *Service) Publish(topic string, msgs ...*message.Message) error {
	if s.transport == nil || s.transport.Publisher == nil {
		return fmt.Errorf("dispatchkit: no transport configured for topic %q", topic)
	}
	return s.transport.Publisher.Publish(topic, msgs...)
}

// Executor returns the pool serving endpointID.
func (s *Service) Executor(endpointID string) (pool.Executor, error) {
	return s.endpoints.Resolve(endpointID)
}

// Endpoints returns the configured endpoint ids in lexical order.
func (s *Service) Endpoints() []string {
	return s.endpoints.Endpoints()
}

// Metrics returns the metrics facade.
func (s *Service) Metrics() *metrics.Registry {
	return s.metrics
}

// Container returns the service container, for resolving extra bindings.
func (s *Service) Container() *container.Container {
	return s.container
}

// Start consumes every endpoint topic and serves the observability endpoints
// until ctx is cancelled, then shuts down within the configured grace period.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.transport != nil {
		if err := s.subscribe(gctx, g); err != nil {
			g.Go(func() error { return err })
		} else {
			s.transport.Serve(loggingpkg.NewWatermillAdapter(s.Logger))
		}
	}
	if s.Conf.MetricsEnabled {
		g.Go(func() error { return s.serveObservability(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Conf.ShutdownGracePeriod())
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

func (s *Service) subscribe(ctx context.Context, g *errgroup.Group) error {
	for _, ep := range s.Conf.Endpoints {
		if ep.Topic == "" {
			continue
		}
		messages, err := s.transport.Subscriber.Subscribe(ctx, ep.Topic)
		if err != nil {
			return fmt.Errorf("subscribe endpoint %q to %q: %w", ep.ID, ep.Topic, err)
		}
		c := newConsumer(ep.ID, ep.Topic, s.dispatcher, s.Conf.NackRejected, s.transport.Capabilities, s.Logger)
		g.Go(func() error { return c.run(ctx, messages) })
	}
	return nil
}

// Shutdown closes the transport and then every pool, newest first, waiting
// for in-flight tasks until ctx is done. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Logger.Info("Shutting down dispatch service", nil)
	return s.container.Close(ctx)
}
