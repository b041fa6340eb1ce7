package pipeline

import (
	"context"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/logic/capture"
)

type job struct {
	kind    Kind
	release func()
}

// Worker executes runs on one dedicated goroutine. Triggers come from
// other goroutines (buttons, HTTP, MQTT) and never block.
type Worker struct {
	o       *Orchestrator
	request func() capture.Request
	jobs    chan job
}

// NewWorker binds a worker to o. request builds the capture request for
// each capture run.
func NewWorker(o *Orchestrator, request func() capture.Request) *Worker {
	return &Worker{
		o:       o,
		request: request,
		jobs:    make(chan job, 1),
	}
}

// Trigger asks for a run of the given kind. It returns false, and the
// trigger is dropped, when a run is already in progress.
func (w *Worker) Trigger(kind Kind) bool {
	release, ok := w.o.guard.TryAcquire()
	if !ok {
		w.o.skip(kind)
		return false
	}
	// The guard is held, so the worker has already taken any earlier job.
	select {
	case w.jobs <- job{kind: kind, release: release}:
		return true
	default:
		release()
		w.o.skip(kind)
		return false
	}
}

// Busy reports whether a run is queued or in progress.
func (w *Worker) Busy() bool { return w.o.Busy() }

// LastReport returns the most recent non-skipped report.
func (w *Worker) LastReport() (Report, bool) { return w.o.LastReport() }

// Run processes triggered jobs until ctx is cancelled. A run in progress
// when ctx is cancelled finishes with the context error at its next
// blocking point.
func (w *Worker) Run(ctx context.Context) error {
	debug.Verbose("Pipeline: worker started")
	for {
		select {
		case <-ctx.Done():
			select {
			case j := <-w.jobs:
				j.release()
			default:
			}
			return nil
		case j := <-w.jobs:
			w.execute(ctx, j)
		}
	}
}

func (w *Worker) execute(ctx context.Context, j job) {
	defer j.release()
	switch j.kind {
	case KindTest:
		_ = w.o.testPrint(ctx, nil)
	default:
		_ = w.o.capture(ctx, w.request())
	}
}
