package printer

import (
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/cjeanneret/InstantPrint/internal/debug"
)

// Transport is the byte stream the protocol rides on.
// Drain blocks until everything written so far has left the host,
// which is the flow-control signal between chunks.
type Transport interface {
	Write(p []byte) (int, error)
	Drain() error
	Close() error
}

// Dialer opens a transport for the given configuration.
type Dialer func(cfg Config) (Transport, error)

// DialSerial opens cfg.Port as 8N1 at cfg.BaudRate.
func DialSerial(cfg Config) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	debug.Info("Printer: serial port %s open at %d baud", cfg.Port, cfg.BaudRate)
	return port, nil
}

// MockTransport logs writes instead of sending them.
// Used for development on PC, like the mock GPIO driver.
type MockTransport struct {
	mu      sync.Mutex
	written int
}

// DialMock returns a MockTransport.
func DialMock(cfg Config) (Transport, error) {
	debug.Info("Using MOCK printer transport (development mode)")
	return &MockTransport{}, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	m.written += len(p)
	m.mu.Unlock()
	debug.Trace("Printer (mock): write %d bytes", len(p))
	return len(p), nil
}

func (m *MockTransport) Drain() error { return nil }

func (m *MockTransport) Close() error {
	debug.Trace("Printer (mock): close")
	return nil
}

// Written returns the total number of bytes accepted.
func (m *MockTransport) Written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}
