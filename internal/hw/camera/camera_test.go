package camera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestOptions_DefaultsValid(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
}

func TestOptions_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"video_mode", func(o *Options) { o.CaptureMode = CaptureModeVideo }, false},
		{"unknown_mode", func(o *Options) { o.CaptureMode = "burst" }, true},
		{"mute", func(o *Options) { o.ShutterVolume = 0 }, false},
		{"volume_too_high", func(o *Options) { o.ShutterVolume = 101 }, true},
		{"volume_negative", func(o *Options) { o.ShutterVolume = -1 }, true},
		{"no_delay", func(o *Options) { o.ExposureDelay = 0 }, false},
		{"max_delay", func(o *Options) { o.ExposureDelay = 10 * time.Second }, false},
		{"delay_too_long", func(o *Options) { o.ExposureDelay = 11 * time.Second }, true},
		{"fractional_delay", func(o *Options) { o.ExposureDelay = 1500 * time.Millisecond }, true},
		{"ev_minus_two", func(o *Options) { o.ExposureCompensation = -2.0 }, false},
		{"ev_third_step", func(o *Options) { o.ExposureCompensation = 0.7 }, false},
		{"ev_off_ladder", func(o *Options) { o.ExposureCompensation = 0.5 }, true},
		{"ev_too_high", func(o *Options) { o.ExposureCompensation = 2.3 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.mutate(&o)
			err := o.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCommandState_String(t *testing.T) {
	cases := map[CommandState]string{
		StatePending:    "pending",
		StateInProgress: "in_progress",
		StateDone:       "done",
		StateFailed:     "failed",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if StateInProgress.Terminal() || !StateDone.Terminal() || !StateFailed.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

// fakeOSC is a minimal OSC server: takePicture returns id "7", status
// reports inProgress until polls are exhausted.
type fakeOSC struct {
	mu       sync.Mutex
	requests []oscRequest
	polls    int
	fail     bool
	noMode   bool // reject a setOptions call that changes captureMode
}

func (f *fakeOSC) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oscRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == oscExecutePath && req.Name == "camera.setOptions" && f.noMode && hasOption(req, "captureMode"):
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"name":"camera.setOptions","state":"error","error":{"code":"invalidParameterValue","message":"captureMode"}}`))
		case r.URL.Path == oscExecutePath && req.Name == "camera.setOptions":
			w.Write([]byte(`{"name":"camera.setOptions","state":"done"}`))
		case r.URL.Path == oscExecutePath && req.Name == "camera.takePicture":
			w.Write([]byte(`{"name":"camera.takePicture","state":"inProgress","id":"7","progress":{"completion":0}}`))
		case r.URL.Path == oscStatusPath:
			f.mu.Lock()
			f.polls--
			left := f.polls
			f.mu.Unlock()
			switch {
			case f.fail:
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"name":"camera.takePicture","state":"error","error":{"code":"disabledCommand","message":"busy"}}`))
			case left > 0:
				w.Write([]byte(`{"name":"camera.takePicture","state":"inProgress","id":"7"}`))
			default:
				w.Write([]byte(`{"name":"camera.takePicture","state":"done","results":{"fileUrl":"http://127.0.0.1:8080/files/abcde/100RICOH/R0011607.JPG"}}`))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`not json`))
		}
	})
}

func hasOption(req oscRequest, key string) bool {
	opts, _ := req.Parameters["options"].(map[string]any)
	_, ok := opts[key]
	return ok
}

func TestOSC_SetOptionsSendsModeFirst(t *testing.T) {
	f := &fakeOSC{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cam := NewOSC(srv.URL+"/", time.Second)
	if err := cam.SetOptions(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}

	if len(f.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(f.requests))
	}
	want := []map[string]any{
		{"captureMode": "image"},
		{
			"_shutterVolume":       float64(100),
			"exposureDelay":        float64(5),
			"exposureCompensation": float64(1),
		},
	}
	for i, w := range want {
		req := f.requests[i]
		if req.Name != "camera.setOptions" {
			t.Errorf("request %d name = %q, want camera.setOptions", i, req.Name)
		}
		opts, ok := req.Parameters["options"].(map[string]any)
		if !ok {
			t.Fatalf("request %d: options missing from parameters: %+v", i, req.Parameters)
		}
		if len(opts) != len(w) {
			t.Errorf("request %d options = %v, want %v", i, opts, w)
		}
		for k, v := range w {
			if opts[k] != v {
				t.Errorf("request %d option %s = %v, want %v", i, k, opts[k], v)
			}
		}
	}
}

func TestOSC_SetOptionsStopsWhenModeRejected(t *testing.T) {
	f := &fakeOSC{noMode: true}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	err := NewOSC(srv.URL, time.Second).SetOptions(context.Background(), DefaultOptions())
	if err == nil {
		t.Fatal("expected error for rejected capture mode, got nil")
	}
	if len(f.requests) != 1 {
		t.Errorf("requests = %d, want 1 (exposure options must not be sent)", len(f.requests))
	}
}

func TestOSC_SetOptionsRejectsInvalid(t *testing.T) {
	f := &fakeOSC{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	opts := DefaultOptions()
	opts.ShutterVolume = 200
	if err := NewOSC(srv.URL, time.Second).SetOptions(context.Background(), opts); err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if len(f.requests) != 0 {
		t.Errorf("invalid options must not reach the camera, got %d requests", len(f.requests))
	}
}

func TestOSC_TakePictureAndPoll(t *testing.T) {
	f := &fakeOSC{polls: 2}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cam := NewOSC(srv.URL, time.Second)
	ctx := context.Background()

	st, err := cam.TakePicture(ctx)
	if err != nil {
		t.Fatalf("TakePicture: %v", err)
	}
	if st.ID != "7" || st.State != StateInProgress {
		t.Fatalf("TakePicture status = %+v", st)
	}

	st, err = cam.CommandStatus(ctx, st.ID)
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if st.State != StateInProgress {
		t.Errorf("first poll state = %v, want in_progress", st.State)
	}

	st, err = cam.CommandStatus(ctx, "7")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if st.State != StateDone {
		t.Fatalf("second poll state = %v, want done", st.State)
	}
	if !strings.HasSuffix(st.FileURL, "/100RICOH/R0011607.JPG") {
		t.Errorf("FileURL = %q", st.FileURL)
	}
	if st.ID != "7" {
		t.Errorf("ID = %q, want 7 (filled from request)", st.ID)
	}
}

func TestOSC_CommandErrorMapsToFailed(t *testing.T) {
	f := &fakeOSC{fail: true}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	st, err := NewOSC(srv.URL, time.Second).CommandStatus(context.Background(), "7")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
	if !strings.Contains(st.Error, "disabledCommand") {
		t.Errorf("error = %q, want code included", st.Error)
	}
}

func TestOSC_NonJSONResponseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}))
	defer srv.Close()

	if _, err := NewOSC(srv.URL, time.Second).TakePicture(context.Background()); err == nil {
		t.Error("expected error for non-JSON response, got nil")
	}
}

func TestSimulated_DoneAfterPolls(t *testing.T) {
	cam := NewSimulated("/dcim/100ABC/IMG_01.JPG", 3)
	ctx := context.Background()
	if err := cam.SetOptions(ctx, DefaultOptions()); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	st, err := cam.TakePicture(ctx)
	if err != nil {
		t.Fatalf("TakePicture: %v", err)
	}

	var states []CommandState
	for i := 0; i < 3; i++ {
		s, err := cam.CommandStatus(ctx, st.ID)
		if err != nil {
			t.Fatalf("CommandStatus: %v", err)
		}
		states = append(states, s.State)
		if s.State == StateDone && s.FileURL != "/dcim/100ABC/IMG_01.JPG" {
			t.Errorf("FileURL = %q", s.FileURL)
		}
	}
	want := []CommandState{StateInProgress, StateInProgress, StateDone}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("poll %d = %v, want %v", i+1, states[i], want[i])
		}
	}
}

func TestSimulated_UnknownIDFails(t *testing.T) {
	st, err := NewSimulated("x", 1).CommandStatus(context.Background(), "nope")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
}

func TestImplementsControl(t *testing.T) {
	var _ Control = &OSC{}
	var _ Control = &Simulated{}
}
