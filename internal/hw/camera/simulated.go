package camera

import (
	"context"
	"strconv"
	"sync"

	"github.com/cjeanneret/InstantPrint/internal/debug"
)

// Simulated is a Control that needs no hardware. Each picture reports
// in-progress for Polls status queries and then done with FileURL.
// Used for development on PC, like the mock GPIO driver.
type Simulated struct {
	FileURL string
	Polls   int

	mu      sync.Mutex
	seq     int
	pending map[string]int
	opts    Options
}

// NewSimulated creates a simulated camera.
func NewSimulated(fileURL string, polls int) *Simulated {
	return &Simulated{
		FileURL: fileURL,
		Polls:   polls,
		pending: make(map[string]int),
	}
}

func (s *Simulated) SetOptions(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	debug.Verbose("Camera (simulated): options %+v", opts)
	return nil
}

func (s *Simulated) TakePicture(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := strconv.Itoa(s.seq)
	s.pending[id] = s.Polls
	debug.Verbose("Camera (simulated): takePicture id=%s", id)
	return Status{ID: id, State: StateInProgress}, nil
}

func (s *Simulated) CommandStatus(ctx context.Context, id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	left, ok := s.pending[id]
	if !ok {
		return Status{ID: id, State: StateFailed, Error: "unknown command"}, nil
	}
	if left > 1 {
		s.pending[id] = left - 1
		return Status{ID: id, State: StateInProgress}, nil
	}
	delete(s.pending, id)
	return Status{ID: id, State: StateDone, FileURL: s.FileURL}, nil
}
