package automation

import (
	"fmt"

	"github.com/zulandar/shellyard/internal/directive"
	"github.com/zulandar/shellyard/internal/transcript"
)

// State is the runner's position in the automation loop.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateAwaitingCompletion
	StateStopped
)

var stateNames = [...]string{"idle", "awaiting_model", "awaiting_completion", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports whether the runner has an outstanding model call or command.
func (s State) Busy() bool {
	return s == StateAwaitingModel || s == StateAwaitingCompletion
}

// Status is a snapshot of a runner.
type Status struct {
	SessionID  string `json:"session_id"`
	Host       string `json:"host,omitempty"`
	State      State  `json:"state"`
	Directive  string `json:"directive"`
	AutoRun    bool   `json:"auto_run"`
	Generation uint64 `json:"generation"`
	Persona    string `json:"persona"`
}

// Request is a directive that has been sent to the shell and is waiting for
// its output. At most one is live per session.
type Request struct {
	Generation uint64
	Directive  directive.Directive
	SessionID  string
}

// EventKind tells observers what changed.
type EventKind int

const (
	EventMessage EventKind = iota
	EventStatus
)

// Event is delivered to observers from the runner's loop.
type Event struct {
	SessionID string
	Kind      EventKind
	Message   transcript.Message // set for EventMessage
	Status    Status
}

// Observer receives runner events. It is called synchronously from the
// runner's loop and must not block.
type Observer func(Event)
