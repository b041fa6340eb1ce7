package printer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/metrics"
)

// State is the state of a printer link.
//
//	CLOSED --Open--> OPEN --Print/Feed--> BUSY --ok--> OPEN
//	                                      BUSY --I/O failure--> ERROR
//	ERROR/CLOSED --Open/Reopen--> OPEN
type State int

const (
	StateClosed State = iota
	StateOpen
	StateBusy
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	DefaultBaudRate     = 38400
	DefaultChunkSize    = 16384 // largest single usbfs transfer
	DefaultWriteTimeout = 10 * time.Second

	// MaxFeed is the largest distance one feed command can carry.
	MaxFeed = 255

	maxFrameRows = 0xFFFF // row count is a 16-bit field
)

// Command bytes.
var (
	cmdRaster = []byte{0x1c, 0x2a, 0x65} // FS * m nH nL, then rows
	cmdFeed   = []byte{0x1b, 0x4a}       // ESC J n
	cmdQR     = []byte{0x1d, 0x78}       // GS x level len, then data
)

// Config holds the link parameters.
type Config struct {
	Port          string
	BaudRate      int
	DotWidth      int           // head width in dots; every bitmap row must pack to RowBytes(DotWidth)
	ChunkSize     int           // max bytes per transport write
	MaxFrameBytes int           // max raster bytes per print command; 0 = only the 16-bit row limit
	WriteTimeout  time.Duration // bound on one chunk write plus drain
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DotWidth <= 0 {
		c.DotWidth = DotWidth
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Link drives one printer over a transport. Operations fail fast instead
// of queuing: callers serialize Print/Feed themselves.
type Link struct {
	cfg  Config
	dial Dialer

	mu    sync.Mutex
	state State
	t     Transport
}

// NewLink creates a closed link. Call Open before printing.
func NewLink(cfg Config, dial Dialer) *Link {
	return &Link{
		cfg:   cfg.withDefaults(),
		dial:  dial,
		state: StateClosed,
	}
}

// Open dials the transport. It is a no-op on an open link and resets a
// link in ERROR state.
func (l *Link) Open() error {
	l.mu.Lock()
	switch l.state {
	case StateOpen:
		l.mu.Unlock()
		return nil
	case StateBusy:
		l.mu.Unlock()
		return ErrLinkBusy
	}
	old := l.t
	l.t = nil
	l.state = StateClosed
	l.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	t, err := l.dial(l.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}

	l.mu.Lock()
	l.t = t
	l.state = StateOpen
	l.mu.Unlock()
	debug.Verbose("Printer: link open (port=%s, baud=%d, chunk=%d)", l.cfg.Port, l.cfg.BaudRate, l.cfg.ChunkSize)
	return nil
}

// Close releases the transport. The link can be opened again.
func (l *Link) Close() error {
	l.mu.Lock()
	t := l.t
	l.t = nil
	l.state = StateClosed
	l.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Print sends the bitmap as one or more raster commands.
func (l *Link) Print(b *Bitmap) error {
	t, err := l.begin()
	if err != nil {
		return err
	}
	if err := l.checkBitmap(b); err != nil {
		l.finish(nil)
		return err
	}
	debug.Verbose("Printer: printing %dx%d bitmap (%d bytes)", b.Width, b.Height, len(b.Data))
	return l.finish(l.sendBitmap(t, b))
}

// Feed advances the paper by pixels dots.
func (l *Link) Feed(pixels int) error {
	t, err := l.begin()
	if err != nil {
		return err
	}
	if pixels < 0 || pixels > MaxFeed {
		l.finish(nil)
		return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidFeed, pixels, MaxFeed)
	}
	debug.Verbose("Printer: feed %d dots", pixels)
	return l.finish(l.send(t, feedCommand(pixels)))
}

// PrintQR prints text as a QR code, with a short feed before and after.
func (l *Link) PrintQR(level QRLevel, text string) error {
	t, err := l.begin()
	if err != nil {
		return err
	}
	data := []byte(text)
	capacity, ok := level.Capacity()
	switch {
	case !ok:
		l.finish(nil)
		return fmt.Errorf("%w: unknown level 0x%02x", ErrInvalidQR, byte(level))
	case len(data) == 0:
		l.finish(nil)
		return fmt.Errorf("%w: empty text", ErrInvalidQR)
	case len(data) > capacity:
		l.finish(nil)
		return fmt.Errorf("%w: %d bytes exceeds level %s capacity %d", ErrInvalidQR, len(data), level, capacity)
	}

	cmd := make([]byte, 0, len(cmdQR)+2+len(data))
	cmd = append(cmd, cmdQR...)
	cmd = append(cmd, byte(level), byte(len(data)))
	cmd = append(cmd, data...)

	for _, p := range [][]byte{feedCommand(qrMargin), cmd, feedCommand(qrMargin)} {
		if err := l.send(t, p); err != nil {
			return l.finish(err)
		}
	}
	return l.finish(nil)
}

// begin moves OPEN to BUSY and returns the transport to use.
func (l *Link) begin() (Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateOpen:
		l.state = StateBusy
		return l.t, nil
	case StateBusy:
		return nil, ErrLinkBusy
	default:
		return nil, fmt.Errorf("%w: link is %s", ErrLinkUnavailable, l.state)
	}
}

// finish ends a BUSY operation: OPEN on success, ERROR on I/O failure.
func (l *Link) finish(ioErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateBusy {
		// Closed underneath us.
		return ioErr
	}
	if ioErr != nil {
		l.state = StateError
		metrics.PrinterErrors.Inc()
		return ioErr
	}
	l.state = StateOpen
	return nil
}

func (l *Link) checkBitmap(b *Bitmap) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if want := RowBytes(l.cfg.DotWidth); b.RowBytes() != want {
		return fmt.Errorf("%w: rows are %d bytes, printer expects %d", ErrInvalidBitmap, b.RowBytes(), want)
	}
	return nil
}

// sendBitmap splits the bitmap into frames of at most rowsPerFrame rows.
func (l *Link) sendBitmap(t Transport, b *Bitmap) error {
	rowBytes := b.RowBytes()
	rowsPerFrame := maxFrameRows
	if l.cfg.MaxFrameBytes > 0 {
		rowsPerFrame = min(rowsPerFrame, max(1, l.cfg.MaxFrameBytes/rowBytes))
	}

	for y := 0; y < b.Height; y += rowsPerFrame {
		rows := min(rowsPerFrame, b.Height-y)
		debug.Verbose("Printer: frame rows %d..%d", y, y+rows-1)
		if err := l.send(t, rasterHeader(rows)); err != nil {
			return err
		}
		if err := l.send(t, b.Data[y*rowBytes:(y+rows)*rowBytes]); err != nil {
			return err
		}
	}
	return nil
}

// send writes p in chunks, draining after each one before the next.
func (l *Link) send(t Transport, p []byte) error {
	total := (len(p) + l.cfg.ChunkSize - 1) / l.cfg.ChunkSize
	for i, off := 0, 0; off < len(p); i, off = i+1, off+l.cfg.ChunkSize {
		chunk := p[off:min(len(p), off+l.cfg.ChunkSize)]
		if err := l.writeChunk(t, chunk); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
		}
		metrics.PrinterBytes.Add(float64(len(chunk)))
		debug.Chunk(i+1, total, len(chunk))
	}
	return nil
}

func (l *Link) writeChunk(t Transport, p []byte) error {
	done := make(chan error, 1)
	go func() {
		n, err := t.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err == nil {
			err = t.Drain()
		}
		done <- err
	}()

	timer := time.NewTimer(l.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceIO, err)
		}
		return nil
	case <-timer.C:
		// Closing the transport unblocks the pending write.
		l.mu.Lock()
		if l.t == t {
			l.t = nil
		}
		l.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("%w: write of %d bytes timed out after %v", ErrDeviceIO, len(p), l.cfg.WriteTimeout)
	}
}

func rasterHeader(rows int) []byte {
	h := make([]byte, 0, len(cmdRaster)+2)
	h = append(h, cmdRaster...)
	return append(h, byte(rows>>8), byte(rows))
}

func feedCommand(pixels int) []byte {
	return append(append([]byte(nil), cmdFeed...), byte(pixels))
}
