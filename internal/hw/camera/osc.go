package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjeanneret/InstantPrint/internal/debug"
)

const (
	oscExecutePath = "/osc/commands/execute"
	oscStatusPath  = "/osc/commands/status"
)

// OSC is a Control for cameras implementing the Open Spherical Camera API
// (RICOH THETA and compatibles). Commands are JSON POSTs; long-running
// commands return an ID to poll through /osc/commands/status.
type OSC struct {
	endpoint string
	client   *http.Client
}

// NewOSC creates a client for the camera reachable at endpoint
// (e.g. "http://127.0.0.1:8080" for an on-camera plugin).
// timeout bounds each HTTP round trip.
func NewOSC(endpoint string, timeout time.Duration) *OSC {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OSC{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type oscRequest struct {
	Name       string         `json:"name,omitempty"`
	ID         string         `json:"id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type oscError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type oscResponse struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	ID      string `json:"id"`
	Results struct {
		FileURL string `json:"fileUrl"`
	} `json:"results"`
	Error *oscError `json:"error,omitempty"`
}

func (r oscResponse) status() Status {
	st := Status{ID: r.ID}
	switch r.State {
	case "done":
		st.State = StateDone
		st.FileURL = r.Results.FileURL
	case "inProgress":
		st.State = StateInProgress
	case "error":
		st.State = StateFailed
		if r.Error != nil {
			st.Error = r.Error.Code + ": " + r.Error.Message
		}
	default:
		st.State = StatePending
	}
	return st
}

// SetOptions sends camera.setOptions twice: the capture mode alone, then
// the exposure options. A failed mode switch stops before the second call.
func (c *OSC) SetOptions(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := c.setOptions(ctx, opts.modeOption()); err != nil {
		return err
	}
	return c.setOptions(ctx, opts.exposureOptions())
}

func (c *OSC) setOptions(ctx context.Context, options map[string]any) error {
	resp, err := c.post(ctx, oscExecutePath, oscRequest{
		Name:       "camera.setOptions",
		Parameters: map[string]any{"options": options},
	})
	if err != nil {
		return fmt.Errorf("camera.setOptions: %w", err)
	}
	if resp.State == "error" {
		return fmt.Errorf("camera.setOptions rejected: %s", resp.status().Error)
	}
	return nil
}

// TakePicture sends camera.takePicture.
func (c *OSC) TakePicture(ctx context.Context) (Status, error) {
	resp, err := c.post(ctx, oscExecutePath, oscRequest{Name: "camera.takePicture"})
	if err != nil {
		return Status{}, fmt.Errorf("camera.takePicture: %w", err)
	}
	return resp.status(), nil
}

// CommandStatus polls /osc/commands/status for the given command ID.
func (c *OSC) CommandStatus(ctx context.Context, id string) (Status, error) {
	resp, err := c.post(ctx, oscStatusPath, oscRequest{ID: id})
	if err != nil {
		return Status{}, fmt.Errorf("commands/status %s: %w", id, err)
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.status(), nil
}

func (c *OSC) post(ctx context.Context, path string, body oscRequest) (oscResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return oscResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	debug.Trace("OSC POST %s %s", path, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return oscResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return oscResponse{}, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return oscResponse{}, fmt.Errorf("read response: %w", err)
	}

	var out oscResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return oscResponse{}, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
	}
	// Command errors come back as 400 with state "error"; let callers see them.
	if res.StatusCode != http.StatusOK && out.State != "error" {
		return oscResponse{}, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return out, nil
}
