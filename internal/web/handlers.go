package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/InstantPrint/internal/journal"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// Runner starts runs without blocking; pipeline.Worker implements it.
type Runner interface {
	Trigger(kind pipeline.Kind) bool
	Busy() bool
	LastReport() (pipeline.Report, bool)
}

// History serves past runs; journal.Journal implements it.
type History interface {
	Recent(n int) ([]pipeline.Report, error)
	Get(id string) (pipeline.Report, error)
}

// Settings is the read-only summary returned by GET /config.
type Settings struct {
	Camera     string `json:"camera"`
	Layout     string `json:"layout"`
	Dither     string `json:"dither"`
	Width      int    `json:"width"`
	FeedPixels int    `json:"feed_pixels"`
	QRFooter   string `json:"qr_footer,omitempty"`
	History    bool   `json:"history"`
	Remote     bool   `json:"remote"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Busy bool             `json:"busy"`
	Last *pipeline.Report `json:"last,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Runner      Runner
	History     History
	Settings    Settings
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runner is nil, trigger endpoints return 503; if history is nil, so do
// the /runs endpoints.
func NewHandlers(broadcaster *StatusBroadcaster, runner Runner, history History, settings Settings, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Runner:      runner,
		History:     history,
		Settings:    settings,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the effective settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, pipeline.KindCapture)
}

// HandleTestPrint handles POST /test-print.
func (h *Handlers) HandleTestPrint(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, pipeline.KindTest)
}

func (h *Handlers) trigger(w http.ResponseWriter, r *http.Request, kind pipeline.Kind) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Runner == nil {
		http.Error(w, "printing not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.Runner.Trigger(kind) {
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "kind": string(kind)})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if h.Runner != nil {
		resp.Busy = h.Runner.Busy()
		if last, ok := h.Runner.LastReport(); ok {
			resp.Last = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRuns handles GET /runs?limit=n, newest first.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "run history not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxRunsLimit {
			http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxRunsLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.History.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []pipeline.Report{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleRun handles GET /runs/{id}.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "run history not configured", http.StatusServiceUnavailable)
		return
	}
	rep, err := h.History.Get(r.PathValue("id"))
	switch {
	case errors.Is(err, journal.ErrNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
