package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a VM failure.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindInvalidAddress
	KindUseAfterFree
	KindUnknownClass
	KindPropertyNotFound
	KindMethodNotFound
	KindSelectorNotFound
	KindStackOverflow
	KindIncompatibleSnapshot
	KindMissingSelector
	KindInvalidOpcode
	KindCancelled
)

var (
	ErrInvalidAddress       = errors.New("invalid address")
	ErrUseAfterFree         = errors.New("use after free")
	ErrUnknownClass         = errors.New("unknown class")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrMethodNotFound       = errors.New("method not found")
	ErrSelectorNotFound     = errors.New("selector not found")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrIncompatibleSnapshot = errors.New("incompatible snapshot")
	ErrMissingSelector      = errors.New("required selector missing from vocabulary")
	ErrInvalidOpcode        = errors.New("invalid opcode")
	ErrCancelled            = errors.New("execution cancelled")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidAddress:       ErrInvalidAddress,
	KindUseAfterFree:         ErrUseAfterFree,
	KindUnknownClass:         ErrUnknownClass,
	KindPropertyNotFound:     ErrPropertyNotFound,
	KindMethodNotFound:       ErrMethodNotFound,
	KindSelectorNotFound:     ErrSelectorNotFound,
	KindStackOverflow:        ErrStackOverflow,
	KindIncompatibleSnapshot: ErrIncompatibleSnapshot,
	KindMissingSelector:      ErrMissingSelector,
	KindInvalidOpcode:        ErrInvalidOpcode,
	KindCancelled:            ErrCancelled,
}

var kindNames = map[ErrorKind]string{
	KindNone:                 "None",
	KindInvalidAddress:       "InvalidAddress",
	KindUseAfterFree:         "UseAfterFree",
	KindUnknownClass:         "UnknownClass",
	KindPropertyNotFound:     "PropertyNotFound",
	KindMethodNotFound:       "MethodNotFound",
	KindSelectorNotFound:     "SelectorNotFound",
	KindStackOverflow:        "StackOverflow",
	KindIncompatibleSnapshot: "IncompatibleSnapshot",
	KindMissingSelector:      "MissingSelector",
	KindInvalidOpcode:        "InvalidOpcode",
	KindCancelled:            "Cancelled",
}

// String implements the Stringer interface.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Fatal reports whether an error of this kind leaves the heap graph in a
// state that only a restore can repair.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindPropertyNotFound, KindMethodNotFound, KindSelectorNotFound, KindUnknownClass:
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// VMError
// ---------------------------------------------------------------------------

// VMError is the structured error reported to the host.
type VMError struct {
	Kind     ErrorKind
	Addr     Reg      // offending address, NullReg if none
	Selector Selector // offending selector, NoSelector if none
	Msg      string
}

func newError(kind ErrorKind, addr Reg, sel Selector, format string, args ...any) *VMError {
	return &VMError{
		Kind:     kind,
		Addr:     addr,
		Selector: sel,
		Msg:      fmt.Sprintf(format, args...),
	}
}

func addrError(kind ErrorKind, addr Reg, format string, args ...any) *VMError {
	return newError(kind, addr, NoSelector, format, args...)
}

func (e *VMError) Error() string {
	s := e.Kind.String()
	if !e.Addr.IsNull() {
		s += " at " + e.Addr.String()
	}
	if e.Selector != NoSelector {
		s += fmt.Sprintf(" selector %d", e.Selector)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Unwrap lets errors.Is match the kind's sentinel.
func (e *VMError) Unwrap() error {
	return kindSentinels[e.Kind]
}

// KindOf extracts the ErrorKind from err, or KindNone.
func KindOf(err error) ErrorKind {
	var vmErr *VMError
	if errors.As(err, &vmErr) {
		return vmErr.Kind
	}
	return KindNone
}

// asVMError converts any error into a *VMError, treating foreign errors as
// invalid-address faults.
func asVMError(err error) *VMError {
	var vmErr *VMError
	if errors.As(err, &vmErr) {
		return vmErr
	}
	return addrError(KindInvalidAddress, NullReg, "%v", err)
}
