package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/framesight/framesight/internal/capture"
	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/store"
)

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// Searcher ranks stored frames against a natural-language query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, locationFilter string, onProgress func(search.Progress)) (*search.Response, error)
}

// FrameRecorder manages the single active capture session.
type FrameRecorder interface {
	Start(src capture.Source, location string) (string, error)
	Stop() (capture.SessionSummary, error)
	Status() capture.Status
	Summaries() []capture.SessionSummary
	ClearSummaries()
}

type App struct {
	Searcher Searcher
	Recorder FrameRecorder
	Frames   store.FrameStore
	Sources  map[string]capture.Source
	Logger   *slog.Logger
}

type searchRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"topK"`
	Location string `json:"location"`
}

func (app *App) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := app.Searcher.Search(r.Context(), req.Query, req.TopK, req.Location, nil)
	if err != nil {
		app.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SearchStreamHandler runs the same search but streams per-frame
// progress as server-sent events, ending with a results event.
func (app *App) SearchStreamHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Search invokes the callback synchronously, so writing to the
	// response from it is safe.
	onProgress := func(p search.Progress) {
		data, err := json.Marshal(p)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
		flusher.Flush()
	}

	resp, err := app.Searcher.Search(r.Context(), req.Query, req.TopK, req.Location, onProgress)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonError(err.Error()))
		flusher.Flush()
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonError("encoding results failed"))
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: results\ndata: %s\n\n", data)
	flusher.Flush()
}

type startRecordingRequest struct {
	Location string `json:"location"`
}

func (app *App) StartRecordingHandler(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	src := app.Sources[req.Location]

	sessionName, err := app.Recorder.Start(src, req.Location)
	if err != nil {
		app.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"sessionName": sessionName})
}

func (app *App) StopRecordingHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := app.Recorder.Stop()
	if err != nil {
		app.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (app *App) RecordingStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Recorder.Status())
}

func (app *App) ListRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	summaries := app.Recorder.Summaries()
	if summaries == nil {
		summaries = []capture.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (app *App) ClearRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	app.Recorder.ClearSummaries()
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) FrameCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := app.Frames.Count(r.Context())
	if err != nil {
		app.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (app *App) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	locations, err := app.Frames.Locations(r.Context())
	if err != nil {
		app.writeDomainError(w, err)
		return
	}
	if locations == nil {
		locations = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"locations": locations})
}

func (app *App) ClearFramesHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Frames.Clear(r.Context()); err != nil {
		app.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps sentinel errors from the search, capture and
// store packages onto HTTP statuses.
func (app *App) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrQueryTooShort),
		errors.Is(err, capture.ErrLocationRequired),
		errors.Is(err, capture.ErrNotRecording):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrAlreadyRecording):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, embed.ErrModelNotReady),
		errors.Is(err, capture.ErrSourceUnavailable),
		errors.Is(err, store.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		if app.Logger != nil {
			app.Logger.Error("request failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonError(message))
	w.Write([]byte("\n"))
}

func jsonError(message string) []byte {
	data, _ := json.Marshal(map[string]string{"error": message})
	return data
}
