package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
)

// FFmpegSource grabs stills from a live input (an RTSP URL or a local
// capture device) by spawning ffmpeg for a single frame per Grab.
type FFmpegSource struct {
	ffmpegPath string
	input      string
	size       int
}

// NewFFmpegSource prepares a source reading from input. size is the
// longest output edge; frames are scaled down preserving aspect ratio.
func NewFFmpegSource(input string, size int) (*FFmpegSource, error) {
	if input == "" {
		return nil, fmt.Errorf("%w: no input configured", ErrSourceUnavailable)
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if size <= 0 {
		size = 448
	}
	return &FFmpegSource{ffmpegPath: ffmpegPath, input: input, size: size}, nil
}

func (s *FFmpegSource) Grab(ctx context.Context) (image.Image, error) {
	args := []string{
		"-i", s.input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", s.size),
		"-q:v", "2",
		"-f", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("grabbing frame from %s: %w (%s)", s.input, err, lastLine(stderr.String()))
	}

	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding grabbed frame: %w", err)
	}
	return img, nil
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}
