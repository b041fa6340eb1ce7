package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cjeanneret/InstantPrint/internal/config"
	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/button"
	"github.com/cjeanneret/InstantPrint/internal/hw/camera"
	"github.com/cjeanneret/InstantPrint/internal/hw/gpio"
	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
	"github.com/cjeanneret/InstantPrint/internal/journal"
	"github.com/cjeanneret/InstantPrint/internal/logic/capture"
	"github.com/cjeanneret/InstantPrint/internal/logic/convert"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
	"github.com/cjeanneret/InstantPrint/internal/remote"
	"github.com/cjeanneret/InstantPrint/internal/storage"
	"github.com/cjeanneret/InstantPrint/internal/web"
)

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	link    *printer.Link
	orch    *pipeline.Orchestrator
	worker  *pipeline.Worker
	journal *journal.Journal
	bridge  *remote.Bridge

	closeOnce sync.Once
}

// newApp builds every component from cfg. The printer link is opened
// eagerly; a failure there is logged and retried by the first run.
func newApp(cfg *config.Config) (*app, error) {
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Camera endpoint", cfg.Camera.Endpoint)

	conv, err := convert.New(converterConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init converter: %w", err)
	}
	debug.PrintStruct("Converter config", conv.Config())

	opts, err := pipelineOptions(cfg)
	if err != nil {
		return nil, err
	}

	req := captureRequest(cfg)
	if err := req.Options.Validate(); err != nil {
		return nil, fmt.Errorf("camera options: %w", err)
	}

	dial, err := dialerFor(cfg.Printer.Transport)
	if err != nil {
		return nil, err
	}
	link := printer.NewLink(linkConfig(cfg), dial)
	if err := link.Open(); err != nil {
		debug.Info("Printer: %v (will retry on first run)", err)
	}
	debug.PrintStruct("Printer config", cfg.Printer)

	orch := pipeline.New(capture.NewTracker(cam), storage.NewResolver(cfg.Storage.DCIMRoot), conv, link, opts)
	a := &app{
		cfg:    cfg,
		link:   link,
		orch:   orch,
		worker: pipeline.NewWorker(orch, func() capture.Request { return req }),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = j
		orch.AddReporter(j)
		debug.Value("Journal", cfg.Journal.Path)
	}
	return a, nil
}

// setTestPattern loads an image file used by test runs.
func (a *app) setTestPattern(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open test pattern: %w", err)
	}
	defer f.Close()
	img, err := convert.Decode(f)
	if err != nil {
		return fmt.Errorf("test pattern %s: %w", path, err)
	}
	a.orch.SetTestPattern(img)
	return nil
}

// runOnce executes a single run of the given kind on the calling goroutine.
func (a *app) runOnce(ctx context.Context, kind pipeline.Kind) error {
	if kind == pipeline.KindTest {
		return a.orch.RunTestPattern(ctx, nil)
	}
	return a.orch.RunOnce(ctx, captureRequest(a.cfg))
}

// history returns the journal as a web.History, or nil when disabled.
func (a *app) history() web.History {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

// settings summarizes the effective configuration for GET /config.
func (a *app) settings() web.Settings {
	return web.Settings{
		Camera:     a.cfg.Camera.Type,
		Layout:     a.cfg.Converter.Layout,
		Dither:     a.cfg.Converter.Dither,
		Width:      a.cfg.Converter.Width,
		FeedPixels: *a.cfg.Printer.FeedPixels,
		QRFooter:   a.cfg.Printer.QRFooter,
		History:    a.journal != nil,
		Remote:     a.cfg.MQTT.Broker != "",
	}
}

// startRemote connects the MQTT bridge when a broker is configured.
func (a *app) startRemote() error {
	if a.cfg.MQTT.Broker == "" {
		return nil
	}
	b := remote.New(remote.Config{
		Broker:      a.cfg.MQTT.Broker,
		ClientID:    a.cfg.MQTT.ClientID,
		Username:    a.cfg.MQTT.Username,
		Password:    a.cfg.MQTT.Password,
		TopicPrefix: a.cfg.MQTT.TopicPrefix,
		QoS:         byte(a.cfg.MQTT.QoS),
	}, a.worker)
	if err := b.Start(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	a.bridge = b
	a.orch.AddReporter(b)
	return nil
}

// startButtons runs one watcher per configured button until ctx ends.
func (a *app) startButtons(ctx context.Context, wg *sync.WaitGroup, g gpio.Driver) error {
	buttons := []struct {
		name string
		pin  int
		kind pipeline.Kind
	}{
		{"capture", a.cfg.Buttons.CapturePin, pipeline.KindCapture},
		{"test", a.cfg.Buttons.TestPin, pipeline.KindTest},
	}
	for _, b := range buttons {
		if b.pin == 0 {
			continue
		}
		kind := b.kind
		w, err := button.NewWatcher(g, button.Config{
			Name:     b.name,
			Pin:      b.pin,
			Interval: a.cfg.SampleInterval(),
			Stable:   a.cfg.Buttons.StableSamples,
		}, func() { a.worker.Trigger(kind) })
		if err != nil {
			return err
		}
		debug.Value(b.name+" button pin", b.pin)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				debug.Error(err)
			}
		}()
	}
	return nil
}

// close releases the bridge, the journal and the printer link. It is safe
// to call more than once.
func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.bridge != nil {
			a.bridge.Stop()
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				debug.Error(err)
			}
		}
		if err := a.link.Close(); err != nil {
			debug.Error(err)
		}
	})
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Control, error) {
	switch cfg.Camera.Type {
	case "osc":
		return camera.NewOSC(cfg.Camera.Endpoint, cfg.RequestTimeout()), nil
	case "simulated":
		return camera.NewSimulated(cfg.Camera.SimulatedFile, cfg.Camera.SimulatedPolls), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func dialerFor(transport string) (printer.Dialer, error) {
	switch transport {
	case "serial":
		return printer.DialSerial, nil
	case "mock":
		return printer.DialMock, nil
	default:
		return nil, fmt.Errorf("unsupported printer transport: %s", transport)
	}
}

func captureRequest(cfg *config.Config) capture.Request {
	return capture.Request{Options: camera.Options{
		CaptureMode:          camera.CaptureMode(cfg.Camera.CaptureMode),
		ShutterVolume:        *cfg.Camera.ShutterVolume,
		ExposureDelay:        cfg.ExposureDelay(),
		ExposureCompensation: *cfg.Camera.ExposureCompensation,
	}}
}

func converterConfig(cfg *config.Config) convert.Config {
	return convert.Config{
		Width:     cfg.Converter.Width,
		Layout:    convert.Layout(cfg.Converter.Layout),
		Recenter:  convert.RecenterMode(cfg.Converter.Recenter),
		Dither:    convert.Dither(cfg.Converter.Dither),
		Threshold: *cfg.Converter.Threshold,
		Resample:  convert.Resample(cfg.Converter.Resample),
	}
}

func linkConfig(cfg *config.Config) printer.Config {
	return printer.Config{
		Port:          cfg.Printer.Port,
		BaudRate:      cfg.Printer.BaudRate,
		DotWidth:      cfg.Converter.Width,
		ChunkSize:     cfg.Printer.ChunkSize,
		MaxFrameBytes: cfg.Printer.MaxFrameBytes,
		WriteTimeout:  cfg.WriteTimeout(),
	}
}

func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	level, err := printer.ParseQRLevel(cfg.Printer.QRLevel)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("printer.qr_level: %w", err)
	}
	footer := pipeline.Footer{Text: cfg.Printer.QRFooter, Level: level}
	if err := footer.Validate(); err != nil {
		return pipeline.Options{}, fmt.Errorf("printer.qr_footer: %w", err)
	}
	return pipeline.Options{
		Poll: capture.PollPolicy{
			Interval:    cfg.PollInterval(),
			MaxAttempts: cfg.Camera.PollMaxAttempts,
			Deadline:    cfg.PollDeadline(),
		},
		FeedPixels: *cfg.Printer.FeedPixels,
		Footer:     footer,
	}, nil
}
