package pgwire

import (
	"fmt"
	"runtime"

	"github.com/jackc/pgerrcode"
)

// Err wraps a PostgreSQL error format.
type Err struct {
	ErrorResponse
	C error
}

// Ensure conformance
var _ error = &Err{}

func (e *Err) Error() string {
	if e.C != nil {
		return fmt.Sprintf("%s %s: %s: %s", e.Severity, e.Code, e.Message, e.C.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Severity, e.Code, e.Message)
}

func (e *Err) Unwrap() error {
	return e.C
}

// Response returns the wire message for this error, filling the
// non-localized severity field clients newer than 9.6 expect.
func (e *Err) Response() *ErrorResponse {
	resp := e.ErrorResponse
	if resp.SeverityUnlocalized == "" {
		resp.SeverityUnlocalized = resp.Severity
	}
	return &resp
}

// NewErr builds an Err stamped with the caller's file and line.
func NewErr(severity Severity, code string, message string, cause error) *Err {
	_, file, line, _ := runtime.Caller(1)
	return &Err{
		ErrorResponse: ErrorResponse{
			Severity: string(severity),
			Code:     code,
			Message:  message,
			File:     file,
			Line:     int32(line),
		},
		C: cause,
	}
}

// NewProtocolViolation reports a fatal framing or sequencing error (08P01).
func NewProtocolViolation(cause error, msg Message) *Err {
	var msgStr string
	if msg != nil {
		msgStr = fmt.Sprintf("unexpected message %T", msg)
	} else if cause != nil {
		msgStr = cause.Error()
	} else {
		msgStr = "invalid protocol state"
	}
	_, file, line, _ := runtime.Caller(1)
	return &Err{
		ErrorResponse: ErrorResponse{
			Severity: string(ErrorFatal),
			Code:     pgerrcode.ProtocolViolation,
			Message:  msgStr,
			File:     file,
			Line:     int32(line),
		},
		C: cause,
	}
}

// AsErr converts any error into an Err. Plain errors become internal errors
// (XX000) so every handler failure has a SQLSTATE on the wire.
func AsErr(err error) *Err {
	if err == nil {
		return nil
	}
	if pgErr, ok := err.(*Err); ok {
		return pgErr
	}
	return &Err{
		ErrorResponse: ErrorResponse{
			Severity: string(ErrorSeverity),
			Code:     pgerrcode.InternalError,
			Message:  err.Error(),
		},
		C: err,
	}
}
