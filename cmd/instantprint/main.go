package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/cjeanneret/InstantPrint/internal/config"
	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/gpio"
	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
	"github.com/cjeanneret/InstantPrint/internal/logic/convert"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
	"github.com/cjeanneret/InstantPrint/internal/web"
)

// cliOverrides holds the command-line values that override the config file.
// Zero values (and FeedPixels < 0) mean "use config".
type cliOverrides struct {
	SerialPort string
	FeedPixels int
	Dither     string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	once := flag.String("once", "", "run once and exit: capture or test")
	pattern := flag.String("pattern", "", "image printed by test runs instead of the built-in pattern")
	serialPort := flag.String("serial_port", "", "override printer serial port")
	feedPixels := flag.Int("feed_pixels", -1, "override paper feed after each print (0-255)")
	dither := flag.String("dither", "", "override dithering: floyd_steinberg, ordered or threshold")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Environment (.env) before the file, so overrides apply during Load
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("load environment failed: %v", err)
	}

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{SerialPort: *serialPort, FeedPixels: *feedPixels, Dither: *dither}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	var onceKind pipeline.Kind
	if *once != "" {
		if onceKind, err = pipeline.ParseKind(*once); err != nil {
			log.Fatalf("invalid -once: %v", err)
		}
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Building pipeline")
	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.close()

	if *pattern != "" {
		if err := a.setTestPattern(*pattern); err != nil {
			log.Fatalf("%v", err)
		}
	}

	if *once != "" {
		debug.Section("Single run")
		if err := a.runOnce(ctx, onceKind); err != nil {
			a.close()
			log.Fatalf("%s run failed: %v", onceKind, err)
		}
		if rep, ok := a.orch.LastReport(); ok {
			debug.Summary("Run " + rep.ID)
			debug.PrintStruct("Stages", rep.Stages)
		}
		return
	}

	if err := serve(ctx, a, webPort.port()); err != nil {
		a.close()
		log.Fatalf("%v", err)
	}
}

// serve runs the worker, the buttons, the MQTT bridge and (when port > 0)
// the web server until ctx is cancelled.
func serve(ctx context.Context, a *app, port int) error {
	debug.Value("Mock GPIO", a.cfg.Defaults.MockGPIO)
	debug.Step(2, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(a.cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker.Run(runCtx)
	}()

	debug.Step(3, "Starting buttons")
	if err := a.startButtons(runCtx, &wg, gpioDriver); err != nil {
		return fmt.Errorf("init buttons failed: %w", err)
	}

	debug.Step(4, "Starting remote triggers")
	if err := a.startRemote(); err != nil {
		return err
	}

	if port > 0 {
		debug.Step(5, "Starting web server")
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		a.orch.AddReporter(broadcaster)

		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, a.worker, a.history(), a.settings())
		if err != nil {
			return err
		}
		if err := srv.Run(runCtx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	debug.Info("InstantPrint ready; waiting for triggers")
	<-runCtx.Done()
	return nil
}

// validateCLIOverrides checks CLI overrides that were actually given.
func validateCLIOverrides(o cliOverrides) error {
	if o.FeedPixels < -1 || o.FeedPixels > printer.MaxFeed {
		return fmt.Errorf("feed_pixels must be between 0 and %d, got %d", printer.MaxFeed, o.FeedPixels)
	}
	if o.Dither != "" {
		if _, err := convert.ParseDither(o.Dither); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only given values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.SerialPort != "" {
		cfg.Printer.Port = o.SerialPort
	}
	if o.FeedPixels >= 0 {
		fp := o.FeedPixels
		cfg.Printer.FeedPixels = &fp
	}
	if o.Dither != "" {
		cfg.Converter.Dither = o.Dither
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
