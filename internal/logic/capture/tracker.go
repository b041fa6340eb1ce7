package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/camera"
	"github.com/cjeanneret/InstantPrint/internal/metrics"
)

var (
	// ErrCaptureFailed means the camera reported a failure, or could not be
	// driven at all.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrCaptureTimeout means the command was still running when the
	// attempt cap or the deadline was reached. Callers may retry on it.
	ErrCaptureTimeout = errors.New("capture timed out")

	errStillRunning = errors.New("command still running")
)

// Request is one capture configuration. It is copied on Submit.
type Request struct {
	Options camera.Options
}

// Handle identifies a command running on the camera.
type Handle struct {
	ID    string
	State camera.CommandState

	last camera.Status
}

// Result is the outcome of a completed capture.
type Result struct {
	Locator  string // file URL reported by the camera
	Attempts int    // status queries issued
}

// PollPolicy bounds the completion wait.
type PollPolicy struct {
	Interval    time.Duration // pause between status queries
	MaxAttempts int           // status queries before giving up (>= 1)
	Deadline    time.Duration // overall wait limit; 0 = attempt cap only
}

// DefaultPollPolicy polls every 100ms for up to one minute.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    100 * time.Millisecond,
		MaxAttempts: 600,
	}
}

// Tracker issues capture commands and waits for their completion.
type Tracker struct {
	cam camera.Control
}

func NewTracker(cam camera.Control) *Tracker {
	return &Tracker{cam: cam}
}

// Submit applies the request options, then starts the capture.
// No picture is taken if the options are not accepted.
func (t *Tracker) Submit(ctx context.Context, req Request) (*Handle, error) {
	opts := req.Options
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	debug.Verbose("Capture: applying options %+v", opts)
	if err := t.cam.SetOptions(ctx, opts); err != nil {
		return nil, fmt.Errorf("%w: set options: %w", ErrCaptureFailed, err)
	}

	st, err := t.cam.TakePicture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: take picture: %w", ErrCaptureFailed, err)
	}
	debug.Live("Capture: command %q submitted (%s)", st.ID, st.State)
	return &Handle{ID: st.ID, State: st.State, last: st}, nil
}

// Await polls the command until it is DONE or FAILED, or the policy is
// exhausted. It never returns a Result for a command still running.
func (t *Tracker) Await(ctx context.Context, h *Handle, p PollPolicy) (Result, error) {
	if h == nil {
		return Result{}, fmt.Errorf("%w: nil handle", ErrCaptureFailed)
	}
	if h.State.Terminal() {
		return complete(h.last, 0)
	}
	if h.ID == "" {
		return Result{}, fmt.Errorf("%w: camera returned no command id", ErrCaptureFailed)
	}
	if p.Interval <= 0 {
		p.Interval = DefaultPollPolicy().Interval
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	pollCtx := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	attempts := 0
	var last camera.Status
	op := func() error {
		attempts++
		st, err := t.cam.CommandStatus(pollCtx, h.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return backoff.Permanent(pollCtx.Err())
			}
			return backoff.Permanent(fmt.Errorf("%w: status query: %w", ErrCaptureFailed, err))
		}
		last = st
		h.State = st.State
		debug.Poll(attempts, st.State.String())
		switch st.State {
		case camera.StateDone:
			return nil
		case camera.StateFailed:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrCaptureFailed, st.Error))
		default:
			return errStillRunning
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1)),
		pollCtx,
	)
	err := backoff.Retry(op, b)
	metrics.PollAttempts.Observe(float64(attempts))

	switch {
	case err == nil:
		return complete(last, attempts)
	case ctx.Err() != nil:
		return Result{}, fmt.Errorf("capture wait cancelled: %w", ctx.Err())
	case errors.Is(err, errStillRunning), errors.Is(err, context.DeadlineExceeded):
		return Result{}, fmt.Errorf("%w: command %q still %s after %d attempts", ErrCaptureTimeout, h.ID, h.State, attempts)
	default:
		return Result{}, err
	}
}

// Capture is Submit followed by Await.
func (t *Tracker) Capture(ctx context.Context, req Request, p PollPolicy) (Result, error) {
	h, err := t.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return t.Await(ctx, h, p)
}

func complete(st camera.Status, attempts int) (Result, error) {
	if st.State != camera.StateDone {
		return Result{}, fmt.Errorf("%w: %s", ErrCaptureFailed, st.Error)
	}
	if st.FileURL == "" {
		return Result{}, fmt.Errorf("%w: done without a file URL", ErrCaptureFailed)
	}
	debug.Live("Capture: done after %d polls: %s", attempts, st.FileURL)
	return Result{Locator: st.FileURL, Attempts: attempts}, nil
}
