package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrSkipped is returned when a trigger arrives while a run is in progress.
var ErrSkipped = errors.New("skipped: a run is already in progress")

// Kind is the trigger that started a run.
type Kind string

const (
	KindCapture Kind = "capture"
	KindTest    Kind = "test"
)

// ParseKind accepts "capture" and "test".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCapture, KindTest:
		return k, nil
	default:
		return "", fmt.Errorf("unknown run kind %q (want capture or test)", s)
	}
}

// Stage names one step of a run.
type Stage string

const (
	StageCapture Stage = "capture"
	StageResolve Stage = "resolve"
	StageDecode  Stage = "decode"
	StagePattern Stage = "pattern"
	StageConvert Stage = "convert"
	StageLink    Stage = "link"
	StagePrint   Stage = "print"
	StageFooter  Stage = "footer"
	StageFeed    Stage = "feed"
)

// StageError ties a run failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Report describes one finished (or skipped) run.
type Report struct {
	ID       string                  `json:"id"`
	Kind     Kind                    `json:"kind"`
	Outcome  Outcome                 `json:"outcome"`
	Stage    Stage                   `json:"stage,omitempty"` // failing stage
	Error    string                  `json:"error,omitempty"`
	Locator  string                  `json:"locator,omitempty"`
	Width    int                     `json:"width,omitempty"`
	Height   int                     `json:"height,omitempty"`
	Bytes    int                     `json:"bytes,omitempty"`
	Started  time.Time               `json:"started"`
	Duration time.Duration           `json:"duration_ns"`
	Stages   map[Stage]time.Duration `json:"stages_ns,omitempty"`
}

// Reporter receives every report. Report is called on the worker
// goroutine and must not block for long. Skipped reports are delivered
// on the goroutine that fired the trigger and must not block at all.
type Reporter interface {
	Report(r Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(r Report)

func (f ReporterFunc) Report(r Report) { f(r) }
