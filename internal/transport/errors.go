package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransport matches every *Error via errors.Is.
var ErrTransport = errors.New("transport error")

// ErrNoSession reports a send outside an open remote session.
var ErrNoSession = errors.New("no remote session")

// Error is a failed exchange with the remote endpoint.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrTransport.
func (e *Error) Is(target error) bool { return target == ErrTransport }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		if terr.Op == "" {
			terr.Op = op
		}
		return terr
	}
	return &Error{Op: op, Err: err}
}
