package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("dispatchkit: configuration is required")
	ErrLoggerRequired     = sterrors.New("dispatchkit: logger is required")
	ErrHandlerRequired    = sterrors.New("dispatchkit: message handler is required")
	ErrTaskRequired       = sterrors.New("dispatchkit: task is required")
	ErrPoolRequired       = sterrors.New("dispatchkit: worker pool is required")
	ErrEndpointIDRequired = sterrors.New("dispatchkit: endpoint id is required")
	ErrUnknownEndpoint    = sterrors.New("dispatchkit: unknown endpoint")
	ErrDuplicateEndpoint  = sterrors.New("dispatchkit: endpoint already registered")
	ErrRegistrySealed     = sterrors.New("dispatchkit: endpoint registry is sealed")
	ErrPoolClosed         = sterrors.New("dispatchkit: worker pool is shut down")
	ErrPoolSaturated      = sterrors.New("dispatchkit: worker pool is at capacity")
	ErrShutdownTimeout    = sterrors.New("dispatchkit: shutdown grace period expired")
	ErrMetricsUnavailable = sterrors.New("dispatchkit: metrics backend unavailable")
	ErrBindingKeyRequired = sterrors.New("dispatchkit: binding key is required")
	ErrProviderRequired   = sterrors.New("dispatchkit: binding provider is required")
	ErrDuplicateBinding   = sterrors.New("dispatchkit: binding already registered")
	ErrUnknownBinding     = sterrors.New("dispatchkit: unknown binding")
	ErrCircularBinding    = sterrors.New("dispatchkit: circular provisioning detected")
	ErrContainerClosed    = sterrors.New("dispatchkit: container is closed")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("dispatchkit: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil so it can wrap Validate results directly.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// EndpointError attaches the endpoint id to a registry or dispatch failure.
type EndpointError struct {
	EndpointID string
	Err        error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.EndpointID)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking task together with its stack trace.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("dispatchkit: task panicked: %v", p.Value)
}
