package device

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionFailure represents the specific kind of connection-prerequisite failure
type ConnectionFailure string

const (
	NotConnected     ConnectionFailure = "not_connected"
	AlreadyConnected ConnectionFailure = "already_connected"
	NotInitialized   ConnectionFailure = "not_initialized"
	NoAdapter        ConnectionFailure = "no_adapter"
	NoConnection     ConnectionFailure = "no_connection"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionFailure
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection prerequisites
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrNoAdapter        = &ConnectionError{State: NoAdapter}
	ErrNoConnection     = &ConnectionError{State: NoConnection}
)

// Operation errors
var (
	ErrTimeout         = errors.New("timeout")
	ErrUnsupported     = errors.New("unsupported")
	ErrBluetoothOff    = errors.New("bluetooth is turned off")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownVariant  = errors.New("unknown variant")
	ErrClosed          = errors.New("closed")
)

// CapabilityError is returned when an optional operation is not available on
// the running platform. The platform is never touched in that case.
type CapabilityError struct {
	Feature string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: feature %q is not available on this platform", ErrUnsupported, e.Feature)
}

// Is makes every CapabilityError match ErrUnsupported and any CapabilityError
// naming the same feature.
func (e *CapabilityError) Is(target error) bool {
	if target == ErrUnsupported {
		return true
	}
	t, ok := target.(*CapabilityError)
	return ok && t.Feature == e.Feature
}

// OperationError wraps a failure reported by the platform binding itself.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// NewOperationError wraps err unless it is nil or already an OperationError.
func NewOperationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Op: op, Err: err}
}

// InvalidArgument wraps ErrInvalidArgument with the offending argument name.
func InvalidArgument(name, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidArgument, name, reason)
}

// NormalizeError maps known platform error strings to structured error types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "not implemented"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionFailure reports whether err is a ConnectionError with the given state
func IsConnectionFailure(err error, state ConnectionFailure) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
