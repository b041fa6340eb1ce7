// Package pipeline runs the capture, convert and print workflow, one run
// at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
	"github.com/cjeanneret/InstantPrint/internal/logic/capture"
	"github.com/cjeanneret/InstantPrint/internal/logic/convert"
	"github.com/cjeanneret/InstantPrint/internal/metrics"
	"github.com/cjeanneret/InstantPrint/internal/storage"
)

// Printer is the part of the printer link a run drives.
// *printer.Link implements it.
type Printer interface {
	State() printer.State
	Open() error
	Print(b *printer.Bitmap) error
	Feed(pixels int) error
	PrintQR(level printer.QRLevel, text string) error
}

// Footer configures the optional QR code printed under capture prints.
// Text may contain {run} and {file}, replaced by the run ID and the
// captured file name.
type Footer struct {
	Text  string
	Level printer.QRLevel
}

// Sample lengths of the placeholders: a ULID and a DCF file name.
const (
	footerRunSample  = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	footerFileSample = "IMG_0001.JPG"
)

// Validate checks that the expanded text fits the QR capacity of Level.
// An empty Text disables the footer and is always valid.
func (f Footer) Validate() error {
	if f.Text == "" {
		return nil
	}
	capacity, ok := f.Level.Capacity()
	if !ok {
		return fmt.Errorf("unknown QR level 0x%02x", byte(f.Level))
	}
	sample := strings.NewReplacer("{run}", footerRunSample, "{file}", footerFileSample).Replace(f.Text)
	if len(sample) > capacity {
		return fmt.Errorf("footer expands to %d bytes, level %s holds %d", len(sample), f.Level, capacity)
	}
	return nil
}

// Options are the per-orchestrator run settings.
type Options struct {
	Poll       capture.PollPolicy
	FeedPixels int // paper advance after every print
	Footer     Footer
}

// DefaultOptions feeds the full 255 dots after every print.
func DefaultOptions() Options {
	return Options{
		Poll:       capture.DefaultPollPolicy(),
		FeedPixels: printer.MaxFeed,
		Footer:     Footer{Level: printer.QRLevelM},
	}
}

// Orchestrator composes tracker, storage, converter and printer.
// Only one run executes at a time; see Guard.
type Orchestrator struct {
	tracker *capture.Tracker
	storage *storage.Resolver
	conv    *convert.Converter
	link    Printer
	opts    Options
	guard   Guard
	pattern image.Image

	mu        sync.Mutex
	reporters []Reporter
	last      *Report
}

func New(tracker *capture.Tracker, resolver *storage.Resolver, conv *convert.Converter, link Printer, opts Options) *Orchestrator {
	return &Orchestrator{
		tracker: tracker,
		storage: resolver,
		conv:    conv,
		link:    link,
		opts:    opts,
	}
}

// AddReporter registers r for every future report.
func (o *Orchestrator) AddReporter(r Reporter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reporters = append(o.reporters, r)
}

// SetTestPattern replaces the built-in test image.
func (o *Orchestrator) SetTestPattern(img image.Image) {
	o.pattern = img
}

// Busy reports whether a run is in progress.
func (o *Orchestrator) Busy() bool {
	return o.guard.Busy()
}

// LastReport returns the most recent report, if any.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// RunOnce captures a picture and prints it. It returns ErrSkipped without
// doing anything if another run is in progress.
func (o *Orchestrator) RunOnce(ctx context.Context, req capture.Request) error {
	release, ok := o.guard.TryAcquire()
	if !ok {
		o.skip(KindCapture)
		return ErrSkipped
	}
	defer release()
	return o.capture(ctx, req)
}

// RunTestPattern prints img, or the built-in test pattern when img is nil,
// without touching the camera.
func (o *Orchestrator) RunTestPattern(ctx context.Context, img image.Image) error {
	release, ok := o.guard.TryAcquire()
	if !ok {
		o.skip(KindTest)
		return ErrSkipped
	}
	defer release()
	return o.testPrint(ctx, img)
}

func (o *Orchestrator) capture(ctx context.Context, req capture.Request) error {
	r := o.start(KindCapture)

	var res capture.Result
	err := r.stage(StageCapture, func() (err error) {
		res, err = o.tracker.Capture(ctx, req, o.opts.Poll)
		return err
	})
	if err != nil {
		return o.finish(r, err)
	}
	r.report.Locator = res.Locator

	var f *os.File
	err = r.stage(StageResolve, func() (err error) {
		f, err = o.storage.Open(res.Locator)
		return err
	})
	if err != nil {
		return o.finish(r, err)
	}
	bmp, err := o.convertFrame(r, StageDecode, func() (image.Image, error) {
		return convert.Decode(f)
	}, true)
	f.Close()
	if err != nil {
		return o.finish(r, err)
	}
	return o.finish(r, o.print(r, bmp, o.footerText(r)))
}

func (o *Orchestrator) testPrint(ctx context.Context, img image.Image) error {
	r := o.start(KindTest)
	if img == nil {
		img = o.pattern
	}
	bmp, err := o.convertFrame(r, StagePattern, func() (image.Image, error) {
		if img != nil {
			return img, nil
		}
		return convert.TestPattern(o.conv.Config()), nil
	}, false)
	if err != nil {
		return o.finish(r, err)
	}
	return o.finish(r, o.print(r, bmp, ""))
}

// frame owns a decoded image for the length of one conversion.
type frame struct {
	img image.Image
}

func (f *frame) release() { f.img = nil }

// convertFrame loads a frame and converts it. The frame is released
// before returning, whatever the outcome.
func (o *Orchestrator) convertFrame(r *run, loadStage Stage, load func() (image.Image, error), recenter bool) (*printer.Bitmap, error) {
	fr := &frame{}
	defer fr.release()

	err := r.stage(loadStage, func() (err error) {
		fr.img, err = load()
		return err
	})
	if err != nil {
		return nil, err
	}

	var bmp *printer.Bitmap
	err = r.stage(StageConvert, func() (err error) {
		img := fr.img
		if recenter {
			if img, err = o.conv.Recenter(img); err != nil {
				return err
			}
		}
		bmp, err = o.conv.Convert(img)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.report.Width, r.report.Height, r.report.Bytes = bmp.Width, bmp.Height, len(bmp.Data)
	return bmp, nil
}

// print sends the bitmap, the optional footer, then feeds the paper.
// A link left in ERROR by an earlier run is reopened first.
func (o *Orchestrator) print(r *run, bmp *printer.Bitmap, footer string) error {
	if st := o.link.State(); st == printer.StateError || st == printer.StateClosed {
		r.log.WithField("state", st.String()).Info("reopening printer link")
		if err := r.stage(StageLink, o.link.Open); err != nil {
			return err
		}
	}
	if err := r.stage(StagePrint, func() error { return o.link.Print(bmp) }); err != nil {
		return err
	}
	// A rejected footer leaves the link usable; the print still gets its feed.
	var footerErr error
	if footer != "" {
		footerErr = r.stage(StageFooter, func() error { return o.link.PrintQR(o.opts.Footer.Level, footer) })
		if footerErr != nil && o.link.State() == printer.StateError {
			return footerErr
		}
	}
	if err := r.stage(StageFeed, func() error { return o.link.Feed(o.opts.FeedPixels) }); err != nil {
		if footerErr != nil {
			return footerErr
		}
		return err
	}
	return footerErr
}

func (o *Orchestrator) footerText(r *run) string {
	if o.opts.Footer.Text == "" {
		return ""
	}
	return strings.NewReplacer(
		"{run}", r.report.ID,
		"{file}", path.Base(r.report.Locator),
	).Replace(o.opts.Footer.Text)
}

// run is the state of one pipeline execution.
type run struct {
	report Report
	log    logrus.FieldLogger
}

func (o *Orchestrator) start(kind Kind) *run {
	id := ulid.Make().String()
	r := &run{
		report: Report{
			ID:      id,
			Kind:    kind,
			Started: time.Now(),
			Stages:  make(map[Stage]time.Duration),
		},
		log: debug.WithFields(logrus.Fields{"run": id, "kind": string(kind)}),
	}
	r.log.Info("run started")
	return r
}

// stage times fn and wraps its error with the stage name.
func (r *run) stage(s Stage, fn func() error) error {
	debug.Live("Run %s: %s", r.report.ID, s)
	start := time.Now()
	err := fn()
	d := time.Since(start)
	r.report.Stages[s] += d
	metrics.StageDuration.WithLabelValues(string(s)).Observe(d.Seconds())

	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: s, Err: err}
}

func (o *Orchestrator) finish(r *run, err error) error {
	r.report.Duration = time.Since(r.report.Started)
	if err != nil {
		r.report.Outcome = OutcomeFailed
		r.report.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			r.report.Stage = se.Stage
		}
		r.log.WithError(err).WithField("stage", string(r.report.Stage)).Error("run failed")
	} else {
		r.report.Outcome = OutcomeOK
		r.log.WithFields(logrus.Fields{
			"duration": r.report.Duration.Round(time.Millisecond).String(),
			"bytes":    r.report.Bytes,
		}).Info("run complete")
	}
	o.publish(r.report)
	return err
}

func (o *Orchestrator) skip(kind Kind) {
	debug.Info("Skip: %s trigger ignored, a run is in progress", kind)
	o.publish(Report{
		ID:      ulid.Make().String(),
		Kind:    kind,
		Outcome: OutcomeSkipped,
		Started: time.Now(),
	})
}

func (o *Orchestrator) publish(rep Report) {
	metrics.Runs.WithLabelValues(string(rep.Kind), string(rep.Outcome)).Inc()

	o.mu.Lock()
	if rep.Outcome != OutcomeSkipped {
		o.last = &rep
	}
	reporters := append([]Reporter(nil), o.reporters...)
	o.mu.Unlock()

	for _, rp := range reporters {
		rp.Report(rep)
	}
}
