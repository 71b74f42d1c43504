package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/framesight/framesight/internal/capture"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/store"
)

type fakeSearcher struct {
	resp      *search.Response
	err       error
	lastQuery string
	lastTopK  int
	progress  []search.Progress
}

func (f *fakeSearcher) Search(ctx context.Context, query string, topK int, locationFilter string, onProgress func(search.Progress)) (*search.Response, error) {
	f.lastQuery = query
	f.lastTopK = topK
	if onProgress != nil {
		for _, p := range f.progress {
			onProgress(p)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeRecorder struct {
	startErr  error
	stopErr   error
	lastSrc   capture.Source
	status    capture.Status
	summaries []capture.SessionSummary
}

func (f *fakeRecorder) Start(src capture.Source, location string) (string, error) {
	f.lastSrc = src
	if f.startErr != nil {
		return "", f.startErr
	}
	return location + " - Jun 10 09:30 AM", nil
}

func (f *fakeRecorder) Stop() (capture.SessionSummary, error) {
	if f.stopErr != nil {
		return capture.SessionSummary{}, f.stopErr
	}
	return capture.SessionSummary{SessionName: "Lobby - Jun 10 09:30 AM", Location: "Lobby", FrameCount: 42}, nil
}

func (f *fakeRecorder) Status() capture.Status              { return f.status }
func (f *fakeRecorder) Summaries() []capture.SessionSummary { return f.summaries }
func (f *fakeRecorder) ClearSummaries()                     { f.summaries = nil }

type staticSource struct{}

func (staticSource) Grab(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func newTestApp(searcher Searcher, recorder FrameRecorder) (*App, http.Handler) {
	app := &App{
		Searcher: searcher,
		Recorder: recorder,
		Frames:   store.NewMemoryStore(),
		Sources:  map[string]capture.Source{"Lobby": staticSource{}},
	}
	return app, NewRouter(app)
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSearchHandler(t *testing.T) {
	searcher := &fakeSearcher{resp: &search.Response{
		Results: []search.Result{
			{FrameID: "f1", Location: "Lobby", Similarity: 0.82},
			{FrameID: "f2", Location: "Lobby", Similarity: 0.71},
		},
		Category:   search.CategoryObjectOnly,
		Confidence: 0.9,
	}}
	_, router := newTestApp(searcher, &fakeRecorder{})

	rec := postJSON(t, router, "/api/search", searchRequest{Query: "trash pile", TopK: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if searcher.lastQuery != "trash pile" || searcher.lastTopK != 5 {
		t.Errorf("request not forwarded: %q topK=%d", searcher.lastQuery, searcher.lastTopK)
	}

	var resp search.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].FrameID != "f1" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}
	if resp.Category != search.CategoryObjectOnly {
		t.Errorf("unexpected category %q", resp.Category)
	}
}

func TestSearchHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"empty query", search.ErrEmptyQuery, http.StatusBadRequest},
		{"too short", search.ErrQueryTooShort, http.StatusBadRequest},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestApp(&fakeSearcher{err: tt.err}, &fakeRecorder{})
			rec := postJSON(t, router, "/api/search", searchRequest{Query: "x"})
			if rec.Code != tt.wantCode {
				t.Errorf("got %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestSearchHandlerBadBody(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{})

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestSearchStreamHandler(t *testing.T) {
	searcher := &fakeSearcher{
		resp: &search.Response{Category: search.CategoryGeneral},
		progress: []search.Progress{
			{Current: 1, Total: 2, Status: "analyzing"},
			{Current: 2, Total: 2, Status: "analyzing"},
		},
	}
	_, router := newTestApp(searcher, &fakeRecorder{})

	rec := postJSON(t, router, "/api/search/stream", searchRequest{Query: "person walking"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: progress"); got != 2 {
		t.Errorf("expected 2 progress events, got %d in %q", got, body)
	}
	if !strings.Contains(body, "event: results") {
		t.Errorf("missing results event in %q", body)
	}
}

func TestSearchStreamHandlerError(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{err: search.ErrEmptyQuery}, &fakeRecorder{})

	rec := postJSON(t, router, "/api/search/stream", searchRequest{Query: ""})
	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Errorf("missing error event in %q", rec.Body.String())
	}
}

func TestStartRecordingHandler(t *testing.T) {
	recorder := &fakeRecorder{}
	_, router := newTestApp(&fakeSearcher{}, recorder)

	rec := postJSON(t, router, "/api/recording/start", startRecordingRequest{Location: "Lobby"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if recorder.lastSrc == nil {
		t.Error("source for location not passed to recorder")
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["sessionName"] == "" {
		t.Errorf("missing session name in %q", rec.Body.String())
	}
}

func TestStartRecordingHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"already recording", capture.ErrAlreadyRecording, http.StatusConflict},
		{"no location", capture.ErrLocationRequired, http.StatusBadRequest},
		{"no source", capture.ErrSourceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{startErr: tt.err})
			rec := postJSON(t, router, "/api/recording/start", startRecordingRequest{Location: "Lobby"})
			if rec.Code != tt.wantCode {
				t.Errorf("got %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestStopRecordingHandler(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{})

	rec := postJSON(t, router, "/api/recording/stop", struct{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	var summary capture.SessionSummary
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if summary.FrameCount != 42 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestStopRecordingHandlerIdle(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{stopErr: capture.ErrNotRecording})

	rec := postJSON(t, router, "/api/recording/stop", struct{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestRecordingStatusHandler(t *testing.T) {
	recorder := &fakeRecorder{status: capture.Status{Recording: true, SessionName: "Lobby - Jun 10 09:30 AM", Location: "Lobby", FrameCount: 7}}
	_, router := newTestApp(&fakeSearcher{}, recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/recording/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var status capture.Status
	json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Recording || status.FrameCount != 7 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestListRecordingsHandlerEmpty(t *testing.T) {
	_, router := newTestApp(&fakeSearcher{}, &fakeRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %q", got)
	}
}

func TestClearRecordingsHandler(t *testing.T) {
	recorder := &fakeRecorder{summaries: []capture.SessionSummary{{SessionName: "s", Location: "Lobby"}}}
	_, router := newTestApp(&fakeSearcher{}, recorder)

	req := httptest.NewRequest(http.MethodDelete, "/api/recordings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("got %d, want 204", rec.Code)
	}
	if len(recorder.summaries) != 0 {
		t.Errorf("summaries not cleared: %+v", recorder.summaries)
	}
}

func TestFrameEndpoints(t *testing.T) {
	app, router := newTestApp(&fakeSearcher{}, &fakeRecorder{})

	for _, loc := range []string{"Lobby", "Gate A"} {
		_, err := app.Frames.Insert(context.Background(), &store.Frame{
			SessionName: "s",
			Location:    loc,
			Timestamp:   1000,
			Embedding:   []float32{1, 0},
		})
		if err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/frames/count", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var count map[string]int
	json.Unmarshal(rec.Body.Bytes(), &count)
	if count["count"] != 2 {
		t.Errorf("expected count 2, got %d", count["count"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/locations", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var locs map[string][]string
	json.Unmarshal(rec.Body.Bytes(), &locs)
	if len(locs["locations"]) != 2 {
		t.Errorf("expected 2 locations, got %v", locs["locations"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/frames", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("clear returned %d", rec.Code)
	}

	n, _ := app.Frames.Count(context.Background())
	if n != 0 {
		t.Errorf("store not cleared, %d frames left", n)
	}
}
