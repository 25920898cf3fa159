package toast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrMalformedArguments is returned when an activation argument string was
// not produced by this process.
var ErrMalformedArguments = errors.New("toast: malformed activation arguments")

const (
	argScheme  = "toastd:1"
	maxArgsLen = 256
)

// Source tells which part of the toast the user clicked.
type Source string

const (
	SourceBody   Source = "body"
	SourceButton Source = "button"
)

// Arguments is the decoded form of an activation argument string.
type Arguments struct {
	ID     string
	Source Source
}

// EncodeArguments renders toastd:1;id=<id>;src=<source>.
func EncodeArguments(id string, src Source) string {
	return argScheme + ";id=" + id + ";src=" + string(src)
}

// ParseArguments decodes an argument string delivered by the OS. Anything
// that does not round-trip through EncodeArguments is rejected.
func ParseArguments(raw string) (Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxArgsLen {
		return Arguments{}, fmt.Errorf("%w: length %d", ErrMalformedArguments, len(raw))
	}

	parts := strings.Split(raw, ";")
	if len(parts) != 3 || parts[0] != argScheme {
		return Arguments{}, ErrMalformedArguments
	}

	idPart, ok := strings.CutPrefix(parts[1], "id=")
	if !ok {
		return Arguments{}, ErrMalformedArguments
	}
	id, err := ulid.ParseStrict(idPart)
	if err != nil {
		return Arguments{}, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}

	srcPart, ok := strings.CutPrefix(parts[2], "src=")
	if !ok {
		return Arguments{}, ErrMalformedArguments
	}
	src := Source(srcPart)
	if src != SourceBody && src != SourceButton {
		return Arguments{}, fmt.Errorf("%w: unknown source %q", ErrMalformedArguments, srcPart)
	}

	return Arguments{ID: id.String(), Source: src}, nil
}
