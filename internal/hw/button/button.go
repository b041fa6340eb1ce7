package button

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/gpio"
)

// Config describes one push button wired between a GPIO pin and GND.
// The pin uses the internal pull-up, so the button is active LOW.
type Config struct {
	Name     string        // label used in logs, e.g. "capture"
	Pin      int           // BCM pin number
	Interval time.Duration // sampling period
	Stable   int           // consecutive identical samples before a change is accepted
}

// Watcher samples a button and calls onPress once per debounced press.
// onPress runs on the watcher goroutine and must not block.
type Watcher struct {
	gpio    gpio.Driver
	cfg     Config
	onPress func()

	state gpio.Level // debounced level
	count int        // samples differing from state
}

// NewWatcher configures the pin as a pulled-up input.
func NewWatcher(g gpio.Driver, cfg Config, onPress func()) (*Watcher, error) {
	if cfg.Pin <= 0 {
		return nil, fmt.Errorf("button %q: pin must be > 0, got %d", cfg.Name, cfg.Pin)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.Stable <= 0 {
		cfg.Stable = 3
	}
	if err := g.SetupPin(cfg.Pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("button %q: setup pin %d: %w", cfg.Name, cfg.Pin, err)
	}
	return &Watcher{
		gpio:    g,
		cfg:     cfg,
		onPress: onPress,
		state:   gpio.High,
	}, nil
}

// Run samples the pin until ctx is cancelled.
// A button already held down at start must be released before it counts.
func (w *Watcher) Run(ctx context.Context) error {
	initial, err := w.gpio.ReadPin(w.cfg.Pin)
	if err != nil {
		return fmt.Errorf("button %q: read pin %d: %w", w.cfg.Name, w.cfg.Pin, err)
	}
	w.state = initial

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lvl, err := w.gpio.ReadPin(w.cfg.Pin)
			if err != nil {
				return fmt.Errorf("button %q: read pin %d: %w", w.cfg.Name, w.cfg.Pin, err)
			}
			if w.sample(lvl) {
				debug.Live("Button %s pressed (pin %d)", w.cfg.Name, w.cfg.Pin)
				w.onPress()
			}
		}
	}
}

// sample feeds one reading into the debouncer and reports a new press.
func (w *Watcher) sample(lvl gpio.Level) bool {
	if lvl == w.state {
		w.count = 0
		return false
	}
	w.count++
	if w.count < w.cfg.Stable {
		return false
	}
	w.state = lvl
	w.count = 0
	return lvl == gpio.Low
}
