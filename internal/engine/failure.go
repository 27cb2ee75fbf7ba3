package engine

import (
	"errors"
	"fmt"
)

// FailureCode names an expected precondition violation.
type FailureCode string

const (
	NotActive                       FailureCode = "NOT_ACTIVE"
	NoObject                        FailureCode = "NO_OBJECT"
	AlreadyActive                   FailureCode = "ALREADY_ACTIVE"
	PendingHandoverBlocks           FailureCode = "PENDING_HANDOVER_BLOCKS"
	ObjectOccupied                  FailureCode = "OBJECT_OCCUPIED"
	StoreError                      FailureCode = "STORE_ERROR"
	ShiftNotFound                   FailureCode = "SHIFT_NOT_FOUND"
	NotOwner                        FailureCode = "NOT_OWNER"
	ProtectionTypeBlocks            FailureCode = "PROTECTION_TYPE_BLOCKS"
	ReceiverInactive                FailureCode = "RECEIVER_INACTIVE"
	ReceiverRoleBlocked             FailureCode = "RECEIVER_ROLE_BLOCKED"
	DifferentObject                 FailureCode = "DIFFERENT_OBJECT"
	NotFound                        FailureCode = "NOT_FOUND"
	AlreadyResolved                 FailureCode = "ALREADY_RESOLVED"
	NotReceiver                     FailureCode = "NOT_RECEIVER"
	NotPendingAndNotForce           FailureCode = "NOT_PENDING_AND_NOT_FORCE"
	NotSender                       FailureCode = "NOT_SENDER"
	NotAccepted                     FailureCode = "NOT_ACCEPTED"
	ReceiverAlreadyActiveNeedsForce FailureCode = "RECEIVER_ALREADY_ACTIVE_NEEDS_FORCE"
	SameGuard                       FailureCode = "SAME_GUARD"
	ReceiverShiftNotActive          FailureCode = "RECEIVER_SHIFT_NOT_ACTIVE"
	HandoverUnresolved              FailureCode = "HANDOVER_UNRESOLVED"
	InvariantViolation              FailureCode = "INVARIANT_VIOLATION"
	InvalidInput                    FailureCode = "INVALID_INPUT"
)

// Failure is a typed result for a rejected operation. Every message is safe
// to show to the person who asked for the operation.
type Failure struct {
	Code    FailureCode
	Message string
	// Err is set only for STORE_ERROR.
	Err error
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(code FailureCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsFailure extracts the Failure carried by err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFailure reports whether err is a Failure with one of codes, or any
// Failure when no codes are given.
func IsFailure(err error, codes ...FailureCode) bool {
	f, ok := AsFailure(err)
	if !ok {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if f.Code == c {
			return true
		}
	}
	return false
}
