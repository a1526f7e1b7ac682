package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec §7. Callers use errors.Is against
// these; adapters wrap them with request/service context via fmt.Errorf("%w").
var (
	ErrQueueFull           = errors.New("queue full")
	ErrQueueTimeout        = errors.New("queue entry timed out")
	ErrStartupFailed       = errors.New("startup failed")
	ErrUpstreamError       = errors.New("upstream error")
	ErrExecutorError       = errors.New("remote executor error")
	ErrShutdownInProgress  = errors.New("gateway shutdown in progress")
	ErrServiceUnknown      = errors.New("unknown service")
	ErrNoRoutableInstance  = errors.New("no routable instance")
)

// ServiceError wraps one of the sentinels above with the service id and a
// human-readable reason.
type ServiceError struct {
	Err       error
	ServiceID string
	Reason    string
}

func (e *ServiceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("service %s: %s: %s", e.ServiceID, e.Err, e.Reason)
	}
	return fmt.Sprintf("service %s: %s", e.ServiceID, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError constructs a ServiceError wrapping one of the sentinels.
func NewServiceError(serviceID string, sentinel error, reason string) *ServiceError {
	return &ServiceError{ServiceID: serviceID, Err: sentinel, Reason: reason}
}
