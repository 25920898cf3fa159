package activation

import (
	"fmt"
	"time"
)

// ActionKind selects what happens when a notification is activated.
type ActionKind int

const (
	// CopyText is the zero value so an Action without a kind falls back to
	// copying text, matching the default notification behavior.
	CopyText ActionKind = iota
	RunCommand
	RevealFiles
)

func (k ActionKind) String() string {
	switch k {
	case CopyText:
		return "copy_text"
	case RunCommand:
		return "run_command"
	case RevealFiles:
		return "reveal_files"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is one of RunCommand(Command), CopyText(Text) or RevealFiles(Paths).
type Action struct {
	Kind    ActionKind
	Command string
	Text    string
	Paths   []string
}

func NewRunCommand(command string) Action {
	return Action{Kind: RunCommand, Command: command}
}

func NewCopyText(text string) Action {
	return Action{Kind: CopyText, Text: text}
}

func NewRevealFiles(paths []string) Action {
	p := make([]string, len(paths))
	copy(p, paths)
	return Action{Kind: RevealFiles, Paths: p}
}

// State tracks where a notification is in its lifecycle.
type State int

const (
	Built State = iota
	Displayed
	// Expired means the OS moved the toast out of the visible queue (for
	// example into the Action Center); it can still be activated.
	Expired
)

func (s State) String() string {
	switch s {
	case Built:
		return "built"
	case Displayed:
		return "displayed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Entry maps a correlation id to the action to run on activation.
type Entry struct {
	ID     string
	Action Action
	// StagingDir holds the files staged for this notification, empty when
	// nothing was staged.
	StagingDir string
	CreatedAt  time.Time
	State      State
	ExpiredAt  time.Time
}
