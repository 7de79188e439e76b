package uds

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for every failure the engines can report. Callers compare
// with errors.Cause.
var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNotConnected               = errors.New("not connected")
	ErrNoSession                  = errors.New("no session for device")
	ErrServiceDiscoveryIncomplete = errors.New("service discovery incomplete")
	ErrInsufficientEncryption     = errors.New("insufficient encryption")
	ErrUserDataAccessNotPermitted = errors.New("user data access not permitted")
	ErrUserNotAuthorized          = errors.New("user not authorized")
	ErrProcedureInProgress        = errors.New("procedure already in progress")
	ErrRequestInProgress          = errors.New("another request is outstanding")
	ErrOperationFailed            = errors.New("operation failed")
	ErrOpCodeNotSupported         = errors.New("op code not supported")
	ErrCCCDImproperlyConfigured   = errors.New("cccd improperly configured")
	ErrReadNotStarted             = errors.New("read long requires a completed read first")
	ErrNotRegistered              = errors.New("user slot not registered")
)

// ATT error codes surfaced at the attribute protocol boundary.
const (
	ATTErrorSuccess                    uint8 = 0x00
	ATTErrorInsufficientEncryption     uint8 = 0x0F
	ATTErrorUserDataAccessNotPermitted uint8 = 0x80
	ATTErrorCCCDImproperlyConfigured   uint8 = 0xFD
	ATTErrorProcedureAlreadyInProgress uint8 = 0xFE
)

// ATTError maps an engine error to the code written in an ATT error
// response. Unmapped errors become the "unlikely" code.
func ATTError(err error) uint8 {
	switch errors.Cause(err) {
	case nil:
		return ATTErrorSuccess
	case ErrInsufficientEncryption:
		return ATTErrorInsufficientEncryption
	case ErrUserDataAccessNotPermitted, ErrNotRegistered:
		return ATTErrorUserDataAccessNotPermitted
	case ErrCCCDImproperlyConfigured:
		return ATTErrorCCCDImproperlyConfigured
	case ErrProcedureInProgress:
		return ATTErrorProcedureAlreadyInProgress
	default:
		return 0x0E
	}
}

// ResponseError maps a control point response value to the matching
// sentinel, or nil for success.
func ResponseError(value byte) error {
	switch value {
	case ResponseSuccess:
		return nil
	case ResponseOpCodeNotSupported:
		return ErrOpCodeNotSupported
	case ResponseInvalidParameter:
		return ErrInvalidParameter
	case ResponseUserNotAuthorized:
		return ErrUserNotAuthorized
	default:
		return ErrOperationFailed
	}
}

// TransportError carries a failure propagated from the vendor stack,
// keeping the underlying ATT code when one was reported.
type TransportError struct {
	Op      string
	ATTCode uint8
	Err     error
}

func (e *TransportError) Error() string {
	if e.ATTCode != 0 {
		return fmt.Sprintf("transport error during %s (att code 0x%02X): %v", e.Op, e.ATTCode, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Cause returns the underlying stack error.
func (e *TransportError) Cause() error { return e.Err }

// NewTransportError wraps a vendor stack failure.
func NewTransportError(op string, attCode uint8, err error) *TransportError {
	return &TransportError{Op: op, ATTCode: attCode, Err: err}
}

// IsTransportError reports whether err (or its cause chain) is a transport
// failure.
func IsTransportError(err error) bool {
	for err != nil {
		if _, ok := err.(*TransportError); ok {
			return true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}
