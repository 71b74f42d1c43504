// Package capture records frames from live sources: it grabs a still at
// a fixed interval, embeds it and appends it to the frame store.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/store"
	"github.com/framesight/framesight/internal/vectormath"
)

var (
	ErrAlreadyRecording  = errors.New("a recording session is already active")
	ErrSourceUnavailable = errors.New("live source unavailable")
	ErrLocationRequired  = errors.New("camera location must be selected before recording")
	ErrNotRecording      = errors.New("no active recording session")
)

const jpegQuality = 85

// SessionSummary is the lightweight record appended when a recording
// stops. It exists for display only; the session's frames are already
// persisted individually.
type SessionSummary struct {
	SessionName string `json:"sessionName"`
	Location    string `json:"location"`
	FrameCount  int    `json:"frameCount"`
	Timestamp   int64  `json:"timestamp"`
}

// Status describes the recorder at a moment in time.
type Status struct {
	Recording       bool   `json:"recording"`
	SessionName     string `json:"sessionName,omitempty"`
	Location        string `json:"location,omitempty"`
	FrameCount      int    `json:"frameCount"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Source is a live feed a still frame can be grabbed from.
type Source interface {
	Grab(ctx context.Context) (image.Image, error)
}

type session struct {
	name       string
	location   string
	start      time.Time
	frameCount int
	cancel     context.CancelFunc
	done       chan struct{}
}

// Recorder owns the recording session lifecycle. At most one session is
// active at a time; the invariant is enforced here, not left to callers.
type Recorder struct {
	frames   store.FrameStore
	provider embed.Provider
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	active    *session
	summaries []SessionSummary
}

func NewRecorder(frames store.FrameStore, provider embed.Provider, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		frames:   frames,
		provider: provider,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins a recording session at location, capturing one frame per
// interval from src until Stop. The location is locked for the session's
// duration. Returns the generated session name.
func (r *Recorder) Start(src Source, location string) (string, error) {
	if location == "" || location == "Select Location" {
		return "", ErrLocationRequired
	}
	if src == nil {
		return "", ErrSourceUnavailable
	}
	if !r.provider.Ready() {
		return "", embed.ErrModelNotReady
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return "", ErrAlreadyRecording
	}

	start := r.now()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		name:     fmt.Sprintf("%s - %s", location, start.Format("Jan 2 03:04 PM")),
		location: location,
		start:    start,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.active = sess

	go r.captureLoop(ctx, src, sess)

	r.logger.Info("recording started", "session", sess.name, "location", location)
	return sess.name, nil
}

func (r *Recorder) captureLoop(ctx context.Context, src Source, sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed tick is logged and skipped; one bad frame
			// must not end the session.
			if _, err := r.CaptureFrame(ctx, src, sess.name, sess.location); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("frame capture failed", "session", sess.name, "error", err)
				continue
			}
			r.mu.Lock()
			sess.frameCount++
			r.mu.Unlock()
		}
	}
}

// CaptureFrame grabs the current instant from src, encodes it as JPEG,
// embeds it and appends a frame to the store, returning the frame ID.
func (r *Recorder) CaptureFrame(ctx context.Context, src Source, sessionName, location string) (string, error) {
	if !r.provider.Ready() {
		return "", embed.ErrModelNotReady
	}
	if src == nil {
		return "", ErrSourceUnavailable
	}

	img, err := src.Grab(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encoding frame: %w", err)
	}

	embedding, err := r.provider.EmbedImage(ctx, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("embedding frame: %w", err)
	}

	frame := &store.Frame{
		SessionName: sessionName,
		Location:    location,
		Timestamp:   r.now().UnixMilli(),
		ImageData:   buf.Bytes(),
		Embedding:   vectormath.Normalize(embedding),
	}

	id, err := r.frames.Insert(ctx, frame)
	if err != nil {
		return "", fmt.Errorf("storing frame: %w", err)
	}
	return id, nil
}

// Stop ends the active session, waits for its capture loop to exit and
// appends a summary to the saved-session list.
func (r *Recorder) Stop() (SessionSummary, error) {
	r.mu.Lock()
	sess := r.active
	r.active = nil
	r.mu.Unlock()

	if sess == nil {
		return SessionSummary{}, ErrNotRecording
	}

	sess.cancel()
	<-sess.done

	summary := SessionSummary{
		SessionName: sess.name,
		Location:    sess.location,
		FrameCount:  sess.frameCount,
		Timestamp:   sess.start.UnixMilli(),
	}

	r.mu.Lock()
	r.summaries = append(r.summaries, summary)
	r.mu.Unlock()

	r.logger.Info("recording stopped", "session", summary.SessionName, "frames", summary.FrameCount)
	return summary, nil
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return Status{}
	}
	return Status{
		Recording:       true,
		SessionName:     r.active.name,
		Location:        r.active.location,
		FrameCount:      r.active.frameCount,
		DurationSeconds: int(r.now().Sub(r.active.start) / time.Second),
	}
}

// Summaries returns the saved-session summaries in recording order.
func (r *Recorder) Summaries() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionSummary, len(r.summaries))
	copy(out, r.summaries)
	return out
}

func (r *Recorder) ClearSummaries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = nil
}
