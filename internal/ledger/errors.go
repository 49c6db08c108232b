package ledger

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the store wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrInvariant  = errors.New("ledger invariant violated")
	ErrUpstream   = errors.New("upstream call failed")
	ErrInternal   = errors.New("internal error")
)

// Error carries a user facing message next to its category and cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func validationErr(msg string, err error) error {
	return &Error{Kind: ErrValidation, Msg: msg, Err: err}
}

func invariantErr(msg string, err error) error {
	return &Error{Kind: ErrInvariant, Msg: msg, Err: err}
}

func upstreamErr(msg string, err error) error {
	return &Error{Kind: ErrUpstream, Msg: msg, Err: err}
}

func internalErr(msg string, err error) error {
	return &Error{Kind: ErrInternal, Msg: msg, Err: err}
}

var (
	errProjectNotFound   = validationf("Project not found")
	errMilestoneNotFound = validationf("Milestone not found")
	errPostNotFound      = validationf("Post not found")
)

// IsNotFound reports whether err names a missing project, milestone or post.
func IsNotFound(err error) bool {
	return errors.Is(err, errProjectNotFound) || errors.Is(err, errMilestoneNotFound) || errors.Is(err, errPostNotFound)
}

// Message returns the user facing text of err.
func Message(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// outcome labels err for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvariant):
		return "invariant"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "internal"
	}
}
