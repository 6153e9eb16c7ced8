package session

import (
	"errors"
	"fmt"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Sentinels matched with errors.Is. Every *Error unwraps to exactly one.
var (
	ErrAuthentication = errors.New("authentication rejected")
	ErrTransport      = errors.New("upstream unavailable")
	ErrDataFormat     = errors.New("unexpected upstream response")
)

// Error is a classified upstream failure. The scraper reuses it for parse
// failures so the coordinator classifies everything in one place.
type Error struct {
	Kind types.ErrorKind
	Op   string // "login page", "login", "statistics", ...
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinel(e.Kind)}
	}
	return []error{e.Err, sentinel(e.Kind)}
}

func sentinel(k types.ErrorKind) error {
	switch k {
	case types.ErrorAuthentication:
		return ErrAuthentication
	case types.ErrorDataFormat:
		return ErrDataFormat
	default:
		return ErrTransport
	}
}

// AuthError wraps err as an authentication failure during op.
func AuthError(op string, err error) error {
	return &Error{Kind: types.ErrorAuthentication, Op: op, Err: err}
}

// TransportError wraps err as a transport failure during op.
func TransportError(op string, err error) error {
	return &Error{Kind: types.ErrorTransport, Op: op, Err: err}
}

// DataFormatError wraps err as a parse failure during op.
func DataFormatError(op string, err error) error {
	return &Error{Kind: types.ErrorDataFormat, Op: op, Err: err}
}

// Classify returns the ErrorKind of err. Unclassified errors, including
// context cancellation, count as transport failures.
func Classify(err error) types.ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return types.ErrorTransport
}
