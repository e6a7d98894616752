package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/wBridge/lib/catalog"
)

// --------------------------------------------------------------------------
// Transport Errors
// --------------------------------------------------------------------------

var (
	// ErrTimeout is returned when no reply arrived before the deadline
	ErrTimeout = errors.New("request timed out")
	// ErrConnectionClosed is returned when the transport was torn down while a call was in flight
	ErrConnectionClosed = errors.New("connection closed")
	// ErrQueueFull is returned when the work queue of a connection is at capacity.
	// The request never left the process.
	ErrQueueFull = errors.New("request queue is full")
	// ErrNoConnection is returned when no connection of the pool could be (re)established
	ErrNoConnection = errors.New("no active connections available")
	// ErrMaxPayload is returned when a payload exceeds the max_payload announced by the server
	ErrMaxPayload = errors.New("maximum payload exceeded")
	// ErrBadSubject is returned for empty subjects or subjects containing whitespace
	ErrBadSubject = errors.New("invalid subject")
)

// ProtocolError signals a malformed frame from the wire.
// It is fatal for the connection that produced it.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error: %s (line %q)", e.Reason, e.Line)
}

// IsTransient reports whether a call that failed with err may succeed when sent again.
// Classified server errors are deterministic outcomes and never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrNoConnection)
}

// IsAmbiguous reports whether a request that failed with err may still have been
// executed by the server. Only these failures require reconciliation before a resend.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionClosed)
}

// --------------------------------------------------------------------------
// Server Errors
// --------------------------------------------------------------------------

// ErrorKind classifies an error string returned by the server
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindAlreadyExists
	KindNotFound
	KindInvalidInput
	KindIllegalOperation
	KindServerUnavailable
)

// Sentinels for errors.Is checks against a *ServerError.
// The domain kinds share their values with the catalog package, so local and
// remote catalogs can be checked the same way.
var (
	ErrInternal          = errors.New("internal server error")
	ErrAlreadyExists     = catalog.ErrAlreadyExists
	ErrNotFound          = catalog.ErrNotFound
	ErrInvalidInput      = catalog.ErrInvalidInput
	ErrIllegalOperation  = catalog.ErrIllegalOperation
	ErrServerUnavailable = errors.New("operation-rejected")
)

// Tokens the server embeds in its error strings
const (
	errTokenAlreadyExists = "already-exists"
	errTokenNotFound      = "not-found"
	errTokenIllegal       = "illegal-operation"
	errTokenInvalid       = "invalid-input"
	errTokenDecode        = "ffjson error"
	errTokenNotServing    = "operation-rejected"
)

// String returns the wire token of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return errTokenAlreadyExists
	case KindNotFound:
		return errTokenNotFound
	case KindInvalidInput:
		return errTokenInvalid
	case KindIllegalOperation:
		return errTokenIllegal
	case KindServerUnavailable:
		return errTokenNotServing
	default:
		return "internal"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	case KindIllegalOperation:
		return ErrIllegalOperation
	case KindServerUnavailable:
		return ErrServerUnavailable
	default:
		return ErrInternal
	}
}

// ServerError is a classified error string returned by the server
type ServerError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Unwrap returns the sentinel of the error kind, so errors.Is(err, ErrNotFound) works
func (e *ServerError) Unwrap() error {
	return e.Kind.sentinel()
}

// TranslateServerError turns the Error field of a reply into a classified error.
// An empty message means success and yields nil.
func TranslateServerError(msg string) error {
	if msg == "" {
		return nil
	}

	kind := KindInternal
	switch {
	case strings.Contains(msg, errTokenAlreadyExists):
		kind = KindAlreadyExists
	case strings.Contains(msg, errTokenNotFound):
		kind = KindNotFound
	case strings.Contains(msg, errTokenIllegal):
		kind = KindIllegalOperation
	case strings.Contains(msg, errTokenInvalid), strings.Contains(msg, errTokenDecode):
		kind = KindInvalidInput
	case strings.Contains(msg, errTokenNotServing):
		kind = KindServerUnavailable
	}

	return &ServerError{Kind: kind, Msg: msg}
}

// NewServerErrorText builds an error string the client side classifies as kind
func NewServerErrorText(kind ErrorKind, detail string) string {
	if detail == "" {
		return kind.String()
	}
	return fmt.Sprintf("%s: %s", kind.String(), detail)
}

// KindOf classifies any error by the sentinel it wraps
func KindOf(err error) ErrorKind {
	var se *ServerError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrIllegalOperation):
		return KindIllegalOperation
	case errors.Is(err, ErrServerUnavailable):
		return KindServerUnavailable
	default:
		return KindInternal
	}
}

// ServerErrorText converts any error into the text sent in the Error field of a reply.
// The text always carries the token of its kind, so TranslateServerError(ServerErrorText(err))
// yields the same kind. Unclassified errors are sent as they are.
func ServerErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	kind := KindOf(err)
	if kind == KindInternal || strings.Contains(msg, kind.String()) {
		return msg
	}
	return NewServerErrorText(kind, msg)
}

// NewServerError creates a classified error, used by server side implementations
func NewServerError(kind ErrorKind, format string, args ...interface{}) *ServerError {
	return &ServerError{Kind: kind, Msg: NewServerErrorText(kind, fmt.Sprintf(format, args...))}
}
