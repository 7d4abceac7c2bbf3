/*
Package runtime wires the dispatch pipeline together.

# Architecture Overview

Every configured endpoint gets a bounded worker pool. Pools admit work by
direct handoff: a message is given to an idle worker, to a newly started one
while the pool is below its maximum, or rejected. Nothing is queued, so a
saturated endpoint sheds load instead of building a backlog.

Pools are constructed by a small container. Each construction is announced to
the container's hooks; the instrumentation listener is one of them and
registers every pool that carries a name tag with the metrics facade. No call
site registers metrics by hand.

# Package Structure

## Service (service.go)

The Service validates the configuration, binds one pool per endpoint into the
container, starts it, registers the pools in the endpoint registry and seals
it. Start subscribes endpoint topics on the configured transport and serves
/metrics and /executors; Shutdown tears the container down in reverse order.

## Dispatcher (dispatcher.go)

Dispatch resolves the endpoint's pool, injects a correlation id and submits
the handler call. Handlers run inside an OpenTelemetry span with JobHooks
around them.

## Consumers (consumer.go)

One goroutine per subscribed topic. Messages are acked once a worker accepts
them. Rejected messages are acked and dropped, or nacked when NackRejected is
set and the transport redelivers.

# Sub-packages

  - config/: Service configuration, JSON loading and validation
  - container/: Bindings, lazy singletons, provisioning hooks, teardown
  - endpoint/: Endpoint id to pool registry, sealed after startup
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for task and correlation ids
  - instrument/: Provisioning hook that instruments named pools
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Reserved message metadata keys
  - metrics/: Prometheus-backed metrics facade and snapshots
  - pool/: Direct-handoff worker pool
  - transport/: Pub/sub transports (channel, Kafka, RabbitMQ, NATS, HTTP, AWS)

# Usage Example

	cfg := &dispatchkit.Config{
		Endpoints: []dispatchkit.EndpointConfig{{
			ID:   "minor",
			Pool: dispatchkit.PoolConfig{MaxThreads: 8, KeepAliveSeconds: 60, NameTag: "minor-pool"},
		}},
	}

	svc := dispatchkit.NewService(cfg, logger, ctx, dispatchkit.ServiceDependencies{
		Handler: func(ctx context.Context, endpointID string, msg *message.Message) error {
			return process(ctx, msg)
		},
	})

	admission, err := svc.Dispatch("minor", msg)
*/
package runtime
