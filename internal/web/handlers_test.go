package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/InstantPrint/internal/journal"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
)

// ---------- Fakes ----------

// fakeRunner accepts triggers until busy is set.
type fakeRunner struct {
	mu       sync.Mutex
	busy     bool
	kinds    []pipeline.Kind
	last     *pipeline.Report
	holdBusy bool // stay busy after the first accepted trigger
}

func (f *fakeRunner) Trigger(kind pipeline.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.kinds = append(f.kinds, kind)
	f.busy = f.holdBusy
	return true
}

func (f *fakeRunner) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRunner) LastReport() (pipeline.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return pipeline.Report{}, false
	}
	return *f.last, true
}

type fakeHistory struct {
	runs  []pipeline.Report
	err   error
	limit int
}

func (f *fakeHistory) Recent(n int) ([]pipeline.Report, error) {
	f.limit = n
	if f.err != nil {
		return nil, f.err
	}
	if n > len(f.runs) {
		n = len(f.runs)
	}
	return f.runs[:n], nil
}

func (f *fakeHistory) Get(id string) (pipeline.Report, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return pipeline.Report{}, fmt.Errorf("%w: %s", journal.ErrNotFound, id)
}

// ---------- Handler helpers ----------

var testSettings = Settings{
	Camera:     "osc",
	Layout:     "panorama",
	Dither:     "floyd_steinberg",
	Width:      384,
	FeedPixels: 255,
}

func newTestHandlers(runner Runner, history History) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
		"style.css":  &fstest.MapFile{Data: []byte("body{}")},
	}
	return NewHandlers(NewStatusBroadcaster(), runner, history, testSettings, staticFS)
}

func testServer(h *Handlers) *Server {
	return &Server{addr: "127.0.0.1:0", handlers: h}
}

func sampleRuns() []pipeline.Report {
	return []pipeline.Report{
		{ID: "01HZZZ3", Kind: pipeline.KindCapture, Outcome: pipeline.OutcomeOK, Width: 384, Height: 1536},
		{ID: "01HZZZ2", Kind: pipeline.KindTest, Outcome: pipeline.OutcomeOK, Width: 384, Height: 192},
		{ID: "01HZZZ1", Kind: pipeline.KindCapture, Outcome: pipeline.OutcomeFailed, Stage: pipeline.StageCapture, Error: "capture timed out"},
	}
}

// ---------- Triggers ----------

func TestHandleCapture_Accepted(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestHandlers(runner, nil)
	w := httptest.NewRecorder()

	h.HandleCapture(w, httptest.NewRequest(http.MethodPost, "/capture", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" || resp["kind"] != "capture" {
		t.Errorf("response = %v", resp)
	}
	if len(runner.kinds) != 1 || runner.kinds[0] != pipeline.KindCapture {
		t.Errorf("triggered = %v, want [capture]", runner.kinds)
	}
}

func TestHandleTestPrint_Accepted(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestHandlers(runner, nil)
	w := httptest.NewRecorder()

	h.HandleTestPrint(w, httptest.NewRequest(http.MethodPost, "/test-print", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(runner.kinds) != 1 || runner.kinds[0] != pipeline.KindTest {
		t.Errorf("triggered = %v, want [test]", runner.kinds)
	}
}

func TestHandleCapture_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeRunner{}, nil)
	w := httptest.NewRecorder()

	h.HandleCapture(w, httptest.NewRequest(http.MethodGet, "/capture", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCapture_NilRunner(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()

	h.HandleCapture(w, httptest.NewRequest(http.MethodPost, "/capture", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCapture_ConcurrentRejected(t *testing.T) {
	runner := &fakeRunner{holdBusy: true}
	h := newTestHandlers(runner, nil)

	w1 := httptest.NewRecorder()
	h.HandleCapture(w1, httptest.NewRequest(http.MethodPost, "/capture", nil))
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	// A test print is rejected too: one run at a time regardless of kind.
	w2 := httptest.NewRecorder()
	h.HandleTestPrint(w2, httptest.NewRequest(http.MethodPost, "/test-print", nil))
	if w2.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w2.Code, http.StatusConflict)
	}
	if len(runner.kinds) != 1 {
		t.Errorf("triggered = %v, want only the first", runner.kinds)
	}
}

// ---------- Status ----------

func TestHandleStatus(t *testing.T) {
	last := sampleRuns()[0]
	runner := &fakeRunner{busy: true, last: &last}
	h := newTestHandlers(runner, nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Busy {
		t.Error("busy = false, want true")
	}
	if resp.Last == nil || resp.Last.ID != last.ID {
		t.Errorf("last = %+v, want %s", resp.Last, last.ID)
	}
}

func TestHandleStatus_NoRunYet(t *testing.T) {
	h := newTestHandlers(&fakeRunner{}, nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if strings.Contains(w.Body.String(), `"last"`) {
		t.Errorf("body = %s, want no last report", w.Body.String())
	}
}

// ---------- Runs ----------

func TestHandleRuns_DefaultLimit(t *testing.T) {
	hist := &fakeHistory{runs: sampleRuns()}
	h := newTestHandlers(nil, hist)
	w := httptest.NewRecorder()

	h.HandleRuns(w, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if hist.limit != defaultRunsLimit {
		t.Errorf("limit = %d, want %d", hist.limit, defaultRunsLimit)
	}
	var runs []pipeline.Report
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "01HZZZ3" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestHandleRuns_Limit(t *testing.T) {
	cases := []struct {
		query string
		code  int
	}{
		{"?limit=2", http.StatusOK},
		{"?limit=500", http.StatusOK},
		{"?limit=0", http.StatusBadRequest},
		{"?limit=-3", http.StatusBadRequest},
		{"?limit=501", http.StatusBadRequest},
		{"?limit=many", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			h := newTestHandlers(nil, &fakeHistory{runs: sampleRuns()})
			w := httptest.NewRecorder()
			h.HandleRuns(w, httptest.NewRequest(http.MethodGet, "/runs"+tc.query, nil))
			if w.Code != tc.code {
				t.Errorf("status = %d, want %d", w.Code, tc.code)
			}
		})
	}
}

func TestHandleRuns_EmptyIsArray(t *testing.T) {
	h := newTestHandlers(nil, &fakeHistory{})
	w := httptest.NewRecorder()

	h.HandleRuns(w, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandleRuns_HistoryError(t *testing.T) {
	h := newTestHandlers(nil, &fakeHistory{err: io.ErrUnexpectedEOF})
	w := httptest.NewRecorder()

	h.HandleRuns(w, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleRuns_NoHistory(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()

	h.HandleRuns(w, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMux_RunByID(t *testing.T) {
	srv := testServer(newTestHandlers(nil, &fakeHistory{runs: sampleRuns()}))
	mux := srv.Mux()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/01HZZZ1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var rep pipeline.Report
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Outcome != pipeline.OutcomeFailed || rep.Stage != pipeline.StageCapture {
		t.Errorf("report = %+v", rep)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var s Settings
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s != testSettings {
		t.Errorf("settings = %+v, want %+v", s, testSettings)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil, nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, nil, testSettings, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- Mux ----------

func TestMux_Routes(t *testing.T) {
	mux := testServer(newTestHandlers(&fakeRunner{}, &fakeHistory{})).Mux()
	cases := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodPost, "/capture", http.StatusAccepted},
		{http.MethodGet, "/capture", http.StatusMethodNotAllowed},
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/static/style.css", http.StatusOK},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != tc.code {
				t.Errorf("status = %d, want %d", w.Code, tc.code)
			}
		})
	}
}

func TestMux_MetricsExposeCollectors(t *testing.T) {
	mux := testServer(newTestHandlers(nil, nil)).Mux()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "instantprint_") {
		t.Error("metrics output should contain instantprint_ collectors")
	}
}

func TestNewServer_EmbeddedIndex(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), nil, nil, testSettings)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	w := httptest.NewRecorder()
	srv.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(w.Body.String(), "InstantPrint") {
		t.Error("embedded index.html should be served")
	}
}

// ---------- Stream ----------

func TestHandleStatusStream_DeliversEvents(t *testing.T) {
	h := newTestHandlers(nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || sc.Text() != ": connected" {
		t.Fatalf("first line = %q, want ': connected'", sc.Text())
	}

	h.Broadcaster.Report(pipeline.Report{ID: "01J", Kind: pipeline.KindTest, Outcome: pipeline.OutcomeOK})
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt StatusEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Run == nil || evt.Run.ID != "01J" {
			t.Errorf("event = %+v", evt)
		}
		return
	}
	t.Fatalf("stream ended without event: %v", sc.Err())
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := testServer(newTestHandlers(nil, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
