package substrateclient

import (
	"errors"
	"fmt"
)

// ErrCoolingDown is returned while the connection manager is suppressing dial
// attempts after every candidate endpoint failed.
var ErrCoolingDown = errors.New("target chain connection cooling down")

// ConnectivityError wraps transport-level failures: no endpoint reachable,
// timeouts, dropped subscriptions. Retryable once the cooldown elapses.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("target chain unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// DispatchError reports that the target chain accepted the extrinsic but its
// runtime rejected the call. Message is decoded from chain metadata into the
// stable "Section.ErrorName: docs" form so callers can key lookup tables on it.
type DispatchError struct {
	Message string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch rejected: %s", e.Message)
}

// IsConnectivity reports whether err is a transport-level failure (including
// the cooldown sentinel) rather than a logical rejection.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce) || errors.Is(err, ErrCoolingDown)
}

// IsDispatchRejected reports whether err is a logical rejection by the target
// chain runtime.
func IsDispatchRejected(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
