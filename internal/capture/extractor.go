package capture

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExtractedFrame is one still pulled out of a recorded video file,
// tagged with its offset from the start of the video.
type ExtractedFrame struct {
	Offset time.Duration
	Data   []byte
}

// Extractor pulls stills out of recorded video files at a fixed
// interval, for indexing footage that was not captured live.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	size        int
}

func NewExtractor(size int) (*Extractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	if size <= 0 {
		size = 448
	}
	return &Extractor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, size: size}, nil
}

// ExtractFrames decodes one frame every interval across the whole video.
// Frames that fail to extract are skipped; an error is returned only
// when the video yields nothing at all.
func (e *Extractor) ExtractFrames(videoPath string, interval time.Duration) ([]ExtractedFrame, error) {
	if interval <= 0 {
		interval = time.Second
	}

	duration, err := e.videoDuration(videoPath)
	if err != nil {
		return nil, fmt.Errorf("probing video duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("invalid video duration %v", duration)
	}

	var frames []ExtractedFrame
	for offset := time.Duration(0); offset < duration; offset += interval {
		data, err := e.extractAt(videoPath, offset)
		if err != nil {
			continue
		}
		frames = append(frames, ExtractedFrame{Offset: offset, Data: data})
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", videoPath)
	}
	return frames, nil
}

func (e *Extractor) videoDuration(videoPath string) (time.Duration, error) {
	cmd := exec.Command(e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", stdout.String(), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (e *Extractor) extractAt(videoPath string, offset time.Duration) ([]byte, error) {
	args := []string{
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", e.size),
		"-q:v", "2",
		"-f", "mjpeg",
		"pipe:1",
	}

	cmd := exec.Command(e.ffmpegPath, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("empty frame at %v", offset)
	}
	return stdout.Bytes(), nil
}
