// Package toast builds ToastGeneric payloads and encodes the correlation id
// that maps an activation back to its registry entry.
package toast

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/toastd/toastd/internal/activation"
)

// ErrInvalidText is returned when user text cannot be embedded in the markup.
var ErrInvalidText = errors.New("toast: text cannot be encoded")

// Content is everything the builder needs from a validated request whose
// resources have already been staged.
type Content struct {
	Title           string
	Message         string
	Image           *Image
	Attachments     []string
	CallbackCommand string
	StagingDir      string
}

// Builder produces payloads with process-unique correlation ids.
type Builder struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewID returns a ULID that is strictly greater than every id previously
// returned by this builder within the same millisecond.
func (b *Builder) NewID() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(b.now()), b.entropy)
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}
	return id.String(), nil
}

// Build assembles the payload and the registry entry describing what the
// notification does when clicked. Body and button carry distinct argument
// strings that resolve to the same entry.
func (b *Builder) Build(c Content) (Payload, activation.Entry, error) {
	for field, s := range map[string]string{"title": c.Title, "message": c.Message} {
		if err := checkText(field, s); err != nil {
			return Payload{}, activation.Entry{}, fmt.Errorf("%w: %v", ErrInvalidText, err)
		}
	}

	id, err := b.NewID()
	if err != nil {
		return Payload{}, activation.Entry{}, err
	}

	action, label := DefaultAction(c)
	p := Payload{
		CorrelationID:   id,
		Title:           c.Title,
		Message:         c.Message,
		Image:           c.Image,
		BodyArguments:   EncodeArguments(id, SourceBody),
		ButtonLabel:     label,
		ButtonArguments: EncodeArguments(id, SourceButton),
	}
	if p.XML, err = render(&p); err != nil {
		return Payload{}, activation.Entry{}, err
	}

	entry := activation.Entry{
		ID:         id,
		Action:     action,
		StagingDir: c.StagingDir,
		CreatedAt:  b.now(),
		State:      activation.Built,
	}
	return p, entry, nil
}

// DefaultAction picks the action for a notification: the callback command
// when one is given, otherwise reveal attachments, otherwise copy the message.
func DefaultAction(c Content) (activation.Action, string) {
	switch {
	case strings.TrimSpace(c.CallbackCommand) != "":
		return activation.NewRunCommand(c.CallbackCommand), "Run"
	case len(c.Attachments) > 0:
		return activation.NewRevealFiles(c.Attachments), "Open"
	default:
		return activation.NewCopyText(c.Message), "Copy"
	}
}
