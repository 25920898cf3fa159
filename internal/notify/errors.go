package notify

import (
	"errors"
	"fmt"
)

// Kind classifies a submission failure for the transport layer.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindStaging
	KindBuild
	KindDispatch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindStaging:
		return "staging"
	case KindBuild:
		return "build"
	case KindDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// ErrUnsupportedImage is returned when image bytes are not PNG, JPEG or GIF,
// or do not match the declared media type.
var ErrUnsupportedImage = errors.New("unsupported image type")

// Error is returned by Service.Submit. Nothing is displayed when Submit
// fails, and every staged file of the request has been removed.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of a Submit error. Errors that did not come from
// Submit are reported as dispatch failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDispatch
}
