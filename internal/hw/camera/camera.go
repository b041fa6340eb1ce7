package camera

import "context"

// CommandState is the lifecycle state of a command running on the camera.
type CommandState int

const (
	StatePending CommandState = iota
	StateInProgress
	StateDone
	StateFailed
)

func (s CommandState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s CommandState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Status is one snapshot of a command as reported by the camera.
type Status struct {
	ID      string
	State   CommandState
	FileURL string // set when State is StateDone
	Error   string // set when State is StateFailed
}

// Control is the camera surface the capture tracker needs.
// It represents an abstract camera regardless of how it is reached
// (HTTP API, simulator, etc.).
type Control interface {
	// SetOptions applies capture options. It must succeed before TakePicture.
	SetOptions(ctx context.Context, opts Options) error
	// TakePicture starts a still capture and returns its initial status.
	TakePicture(ctx context.Context) (Status, error)
	// CommandStatus queries the current status of a command by ID.
	CommandStatus(ctx context.Context, id string) (Status, error)
}
