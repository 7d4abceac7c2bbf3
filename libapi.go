package dispatchkit

import (
	"context"

	runtimepkg "github.com/drblury/dispatchkit/internal/runtime"
	configpkg "github.com/drblury/dispatchkit/internal/runtime/config"
	"github.com/drblury/dispatchkit/internal/runtime/container"
	"github.com/drblury/dispatchkit/internal/runtime/endpoint"
	errspkg "github.com/drblury/dispatchkit/internal/runtime/errors"
	idspkg "github.com/drblury/dispatchkit/internal/runtime/ids"
	"github.com/drblury/dispatchkit/internal/runtime/instrument"
	jsoncodec "github.com/drblury/dispatchkit/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
	metadatapkg "github.com/drblury/dispatchkit/internal/runtime/metadata"
	"github.com/drblury/dispatchkit/internal/runtime/metrics"
	"github.com/drblury/dispatchkit/internal/runtime/pool"
	transportpkg "github.com/drblury/dispatchkit/internal/runtime/transport"
)

type (
	Config              = configpkg.Config
	EndpointConfig      = configpkg.EndpointConfig
	PoolConfig          = configpkg.PoolConfig
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	MessageHandler      = runtimepkg.MessageHandler
	Dispatcher          = runtimepkg.Dispatcher

	Transport        = transportpkg.Transport
	TransportFactory = transportpkg.Factory
	TransportFunc    = transportpkg.FactoryFunc
	Capabilities     = transportpkg.Capabilities

	// Worker pools
	Pool             = pool.Pool
	PoolOptions      = pool.Config
	PoolOption       = pool.Option
	Executor         = pool.Executor
	Task             = pool.Task
	Admission        = pool.Admission
	Rejection        = pool.Rejection
	RejectionHandler = pool.RejectionHandler
	PoolStats        = pool.Stats

	EndpointRegistry = endpoint.Registry

	// Container and provisioning
	Container         = container.Container
	Binding           = container.Binding
	Provider          = container.Provider
	ProvisioningEvent = container.Event
	ProvisioningHook  = container.Hook

	InstrumentationListener = instrument.Listener
	MetricsRegistry         = metrics.Registry
	MetricsSnapshot         = metrics.Snapshot
	ExecutorMetrics         = metrics.ExecutorMetrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	EndpointError         = errspkg.EndpointError
	PanicError            = errspkg.PanicError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks
)

const (
	Accepted = pool.Accepted
	Rejected = pool.Rejected

	AdmissionDirectHandoff = configpkg.AdmissionDirectHandoff

	EndpointTag = runtimepkg.EndpointTag
)

var (
	NewService        = runtimepkg.NewService
	TryNewService     = runtimepkg.TryNewService
	NewDispatcher     = runtimepkg.NewDispatcher
	PoolBindingKey    = runtimepkg.PoolBindingKey
	ValidateConfig    = configpkg.ValidateConfig
	LoadConfig        = configpkg.Load
	LoadConfigFile    = configpkg.LoadFile
	DefaultPoolConfig = configpkg.DefaultPoolConfig

	NewPool               = pool.New
	WithPoolLogger        = pool.WithLogger
	WithRejectionHandler  = pool.WithRejectionHandler
	NewEndpointRegistry   = endpoint.NewRegistry
	NewContainer          = container.New
	NewMetricsRegistry    = metrics.NewRegistry
	NewInstrumentation    = instrument.NewListener
	MetricsSeriesKey      = metrics.SeriesKey
	DefaultTransport      = transportpkg.DefaultFactory
	TransportCapabilities = transportpkg.CapabilitiesOf

	ErrUnsupportedTransport = transportpkg.ErrUnsupportedSystem

	// Job lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrTaskRequired       = errspkg.ErrTaskRequired
	ErrUnknownEndpoint    = errspkg.ErrUnknownEndpoint
	ErrDuplicateEndpoint  = errspkg.ErrDuplicateEndpoint
	ErrRegistrySealed     = errspkg.ErrRegistrySealed
	ErrPoolClosed         = errspkg.ErrPoolClosed
	ErrPoolSaturated      = errspkg.ErrPoolSaturated
	ErrShutdownTimeout    = errspkg.ErrShutdownTimeout
	ErrMetricsUnavailable = errspkg.ErrMetricsUnavailable
	ErrUnknownBinding     = errspkg.ErrUnknownBinding
	ErrCircularBinding    = errspkg.ErrCircularBinding

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	NewMetadata         = metadatapkg.New
	EnsureCorrelationID = metadatapkg.EnsureCorrelationID
	DispatchedAt        = metadatapkg.DispatchedAt

	CreateULID = idspkg.CreateULID
)

// Metadata keys written by the dispatcher.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEndpoint      = metadatapkg.KeyEndpoint
	MetadataKeyDispatchedAt  = metadatapkg.KeyDispatchedAt
)

// Resolve fetches key from c and asserts its type.
func Resolve[T any](ctx context.Context, c *Container, key string) (T, error) {
	return container.Resolve[T](ctx, c, key)
}
