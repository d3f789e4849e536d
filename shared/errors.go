package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoTokenSource         = errors.New("no token source provided")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrNoEventHandler        = errors.New("no event handler provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionNotRunning     = errors.New("session not running")
	ErrTRHandlerAlreadySet   = errors.New("track remote handler already set")
	ErrTLHandlerAlreadySet   = errors.New("track local handler already set")
	ErrNotClientEvent        = errors.New("not a client event")
	ErrMissingEnv            = errors.New("missing environment variable")
)

// Kind classifies failures the way they are surfaced to the user.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidRequest is a malformed or missing room/identity. Never retried.
	KindInvalidRequest
	// KindMisconfigured is a deployment-level credential or endpoint absence.
	KindMisconfigured
	// KindAuthorizationFailure is a failure of the signing step itself.
	KindAuthorizationFailure
	// KindTransportFailure is an unexpected provider disconnect or a media
	// session that could not be opened.
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindMisconfigured:
		return "misconfigured"
	case KindAuthorizationFailure:
		return "authorization_failure"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a Kind.
var (
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrMisconfigured        = &Error{Kind: KindMisconfigured}
	ErrAuthorizationFailure = &Error{Kind: KindAuthorizationFailure}
	ErrTransportFailure     = &Error{Kind: KindTransportFailure}
)

// Error is a classified failure carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func InvalidRequest(msg string) error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

func Misconfigured(msg string) error {
	return &Error{Kind: KindMisconfigured, Message: msg}
}

func AuthorizationFailure(msg string, err error) error {
	return &Error{Kind: KindAuthorizationFailure, Message: msg, Err: err}
}

func TransportFailure(msg string, err error) error {
	return &Error{Kind: KindTransportFailure, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage is the text shown to the person in the call when err ends a
// session attempt.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "connection failed"
	}
	switch e.Kind {
	case KindInvalidRequest:
		if e.Message != "" {
			return e.Message
		}
		return "invalid request"
	case KindMisconfigured:
		return "server misconfigured"
	default:
		return "connection failed"
	}
}
