// Package dispatchkit runs inbound messages on bounded, per-endpoint worker
// pools and instruments every named pool automatically.
//
// Each endpoint in Config gets its own pool. Pools admit work by direct
// handoff: a task goes to an idle worker, or to a new worker while the pool is
// below its maximum, or it is rejected. Nothing is queued. Rejections are
// reported to a RejectionHandler (an error log by default) and counted.
//
// Pools are built by a small container that emits a provisioning event after
// every construction. The instrumentation listener subscribes to those events
// and registers each pool carrying a name tag with the metrics registry
// exactly once. Pools without a name tag are skipped. Metrics land in an
// explicit Prometheus registry, never in the global default one.
//
// # Transports
//
// Endpoints with a Topic are consumed from the configured PubSubSystem:
//   - channel: in-process Go channels
//   - kafka: consumer groups on Kafka
//   - rabbitmq: durable AMQP queues
//   - nats: NATS core subjects
//   - http: inbound webhooks
//   - aws: SNS topics fanned out to SQS queues, with LocalStack support
//
// A message is acked once a worker takes it. A rejected message is acked as
// well (dropped) unless NackRejected is set and the transport redelivers
// nacked messages. Dispatch can also be called directly without a transport.
//
// # Job Hooks
//
// JobHooks wrap every handler run with OnJobStart, OnJobDone and OnJobError
// callbacks. LoggingHooks and AlertingHooks cover the common cases.
//
// # Observability
//
// With MetricsEnabled, Start serves /metrics (Prometheus text format) and
// /executors (a JSON snapshot of every instrumented pool) on MetricsPort.
// Service.Metrics().Snapshot() gives the same view in process.
package dispatchkit
