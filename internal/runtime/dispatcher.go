package runtime

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/dispatchkit/internal/runtime/endpoint"
	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	"github.com/drblury/dispatchkit/internal/runtime/metadata"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
)

const tracerName = "github.com/drblury/dispatchkit"

// MessageHandler processes one message for an endpoint. It runs on a pool
// worker; its context is only cancelled when shutdown gives up waiting.
type MessageHandler func(ctx context.Context, endpointID string, msg *message.Message) error

// Dispatcher resolves an endpoint's pool and submits messages to it.
type Dispatcher struct {
	endpoints *endpoint.Registry
	handlers  map[string]MessageHandler
	fallback  MessageHandler
	hooks     JobHooks
	logger    loggingpkg.ServiceLogger
	tracer    trace.Tracer
}

// NewDispatcher returns a dispatcher over endpoints. handlers override
// fallback per endpoint id; at least one of them must cover every endpoint
// that receives messages.
func NewDispatcher(endpoints *endpoint.Registry, fallback MessageHandler, handlers map[string]MessageHandler, hooks JobHooks, logger loggingpkg.ServiceLogger) *Dispatcher {
	hs := make(map[string]MessageHandler, len(handlers))
	for id, h := range handlers {
		if h != nil {
			hs[id] = h
		}
	}
	return &Dispatcher{
		endpoints: endpoints,
		handlers:  hs,
		fallback:  fallback,
		hooks:     hooks,
		logger:    loggingpkg.OrNop(logger),
		tracer:    otel.Tracer(tracerName),
	}
}

func (d *Dispatcher) handlerFor(endpointID string) MessageHandler {
	if h, ok := d.handlers[endpointID]; ok {
		return h
	}
	return d.fallback
}

// Dispatch submits msg to the pool bound to endpointID. It never blocks: the
// returned admission says whether a worker took the message. An error is only
// returned when the message cannot be routed at all.
func (d *Dispatcher) Dispatch(endpointID string, msg *message.Message) (pool.Admission, error) {
	if msg == nil {
		return pool.Rejected, &errspkg.EndpointError{EndpointID: endpointID, Err: errspkg.ErrTaskRequired}
	}
	executor, err := d.endpoints.Resolve(endpointID)
	if err != nil {
		return pool.Rejected, err
	}
	handler := d.handlerFor(endpointID)
	if handler == nil {
		return pool.Rejected, &errspkg.EndpointError{EndpointID: endpointID, Err: errspkg.ErrHandlerRequired}
	}

	msgCtx := msg.Context()

	// Metadata is only written once a worker owns the message, so a rejected
	// message is redelivered as it arrived.
	return executor.SubmitWithID(msg.UUID, func(poolCtx context.Context) error {
		correlationID := metadata.EnsureCorrelationID(msg)
		metadata.StampDispatch(msg, endpointID, time.Now())

		ctx, cancel := taskContext(msgCtx, poolCtx)
		defer cancel()
		return d.run(ctx, executor.Name(), endpointID, correlationID, handler, msg)
	}), nil
}

func (d *Dispatcher) run(ctx context.Context, poolName, endpointID, correlationID string, handler MessageHandler, msg *message.Message) error {
	ctx, span := d.tracer.Start(ctx, "DispatchMessage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("dispatch.endpoint", endpointID),
		attribute.String("dispatch.pool", poolName),
		attribute.String("message.uuid", msg.UUID),
		attribute.String("message.correlation_id", correlationID),
	)

	job := JobContext{
		EndpointID:    endpointID,
		Pool:          poolName,
		MessageUUID:   msg.UUID,
		CorrelationID: correlationID,
		Metadata:      metadata.Snapshot(msg.Metadata),
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	d.hooks.start(job)

	err := callHandler(ctx, handler, endpointID, msg)

	job.Duration = time.Since(job.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.hooks.finish(job, err)
	return err
}

// callHandler turns a handler panic into a *PanicError so the error hooks
// and the span see it. The pool logs the stack.
func callHandler(ctx context.Context, handler MessageHandler, endpointID string, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return handler(ctx, endpointID, msg)
}

// taskContext keeps the values of the message context but takes its
// cancellation from the pool, so only a forced shutdown stops the handler.
func taskContext(msgCtx, poolCtx context.Context) (context.Context, context.CancelFunc) {
	if msgCtx == nil {
		msgCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(msgCtx))
	stop := context.AfterFunc(poolCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
