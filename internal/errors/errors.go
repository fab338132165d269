package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeInternal           = Code(codes.Internal)

	// CodeConnection is a transport failure: a send or receive on the stream failed.
	CodeConnection = Code(codes.Unavailable)
	// CodeProtocol is a malformed frame or a message whose fields don't match its tag.
	CodeProtocol = Code(codes.DataLoss)
	// CodeJoinRejected is a JOIN refused by the room (bad room code, name taken).
	CodeJoinRejected = Code(codes.PermissionDenied)
	// CodeLivenessTimeout means no inbound traffic arrived within the timeout window.
	CodeLivenessTimeout = Code(codes.DeadlineExceeded)
	// CodeReconnectExhausted means the client gave up after its bounded retries.
	CodeReconnectExhausted = Code(codes.ResourceExhausted)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
	CodeConnection:         http.StatusServiceUnavailable,
	CodeProtocol:           http.StatusBadRequest,
	CodeJoinRejected:       http.StatusForbidden,
	CodeLivenessTimeout:    http.StatusGatewayTimeout,
	CodeReconnectExhausted: http.StatusServiceUnavailable,
}

var code2name = map[Code]string{
	CodeConnection:         "connection error",
	CodeProtocol:           "protocol error",
	CodeJoinRejected:       "join rejected",
	CodeLivenessTimeout:    "liveness timeout",
	CodeReconnectExhausted: "reconnect exhausted",
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code.String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (c Code) String() string {
	if n, ok := code2name[c]; ok {
		return n
	}

	return codes.Code(c).String()
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(": %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code, so errors.Is(err, errors.New(CodeX))
// matches any error of that class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// CodeOf returns the code of the outermost *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeInternal
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
