package errs

import (
	"errors"
	"fmt"
)

// Kind classifies bridge failures.
type Kind int

const (
	KindUnknown    Kind = iota
	KindConnection      // provider or backend unreachable at setup
	KindProtocol        // malformed tool metadata or backend payload
	KindNotFound        // catalog name not resolvable
	KindInvocation      // provider reported a tool failure
	KindTransport       // mid-request network failure talking to the backend
	KindTimeout         // tool invocation exceeded its time limit
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindNotFound:
		return "not_found"
	case KindInvocation:
		return "invocation"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrInvocation = &Error{Kind: KindInvocation}
	ErrTransport  = &Error{Kind: KindTransport}
	ErrTimeout    = &Error{Kind: KindTimeout}
)

// Error is a classified failure. Op names the operation that failed,
// e.g. "connect weather" or "call weather_get".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against a sentinel (an *Error without Op and Err).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
