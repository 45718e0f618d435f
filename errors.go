package chaindb

import (
	"fmt"
	"strings"
)

// ErrorCode classifies driver failures the way callers are expected to
// dispatch on them.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeOpen
	ErrCodeOpenedCursors
	ErrCodeInvalidCursor
	ErrCodeDuplicate
	ErrCodeAbsentField
	ErrCodeWrite
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "none"
	case ErrCodeOpen:
		return "driver_open"
	case ErrCodeOpenedCursors:
		return "driver_opened_cursors"
	case ErrCodeInvalidCursor:
		return "driver_invalid_cursor"
	case ErrCodeDuplicate:
		return "driver_duplicate"
	case ErrCodeAbsentField:
		return "driver_absent_field"
	case ErrCodeWrite:
		return "driver_write"
	default:
		return fmt.Sprintf("invalid error code %d", int(c))
	}
}

type DriverError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func driverErrf(code ErrorCode, err error, format string, args ...any) error {
	return &DriverError{code, fmt.Sprintf(format, args...), err}
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

func (e *DriverError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Code.String())
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// CodeOf extracts the driver error code, or ErrCodeNone for nil and foreign
// errors.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if de, ok := err.(*DriverError); ok {
			return de.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ErrCodeNone
		}
		err = u.Unwrap()
	}
	return ErrCodeNone
}
