package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/framesight/framesight/internal/capture"
	"github.com/framesight/framesight/internal/embed"
	"github.com/framesight/framesight/internal/store"
	"github.com/framesight/framesight/internal/vectormath"
)

func main() {
	var (
		videoPath = flag.String("video", "", "Path to the video file to index")
		location  = flag.String("location", "", "Location label for the indexed frames")
		session   = flag.String("session", "", "Session name (defaults to the video filename)")
		interval  = flag.Duration("interval", time.Second, "Sampling interval between frames")
		dbPath    = flag.String("db", "./framesight.db", "SQLite database path")
		modelDir  = flag.String("models", "./models", "Directory with text.onnx, vision.onnx and vocab.txt")
	)
	flag.Parse()

	if *videoPath == "" {
		log.Fatal("Please provide a video file with -video")
	}
	if *location == "" {
		log.Fatal("Please provide a location label with -location")
	}

	sessionName := *session
	if sessionName == "" {
		sessionName = filepath.Base(*videoPath)
	}

	frames, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatal("Failed to open frame store:", err)
	}
	defer frames.Close()

	cache := embed.NewCache()
	provider := embed.NewONNXProvider(cache, embed.ONNXConfig{
		LibraryPath:     os.Getenv("ONNX_LIB"),
		TextModelPath:   filepath.Join(*modelDir, "text.onnx"),
		VisionModelPath: filepath.Join(*modelDir, "vision.onnx"),
		VocabPath:       filepath.Join(*modelDir, "vocab.txt"),
	}, nil)
	if err := provider.Load(); err != nil {
		log.Fatal("Failed to load encoders:", err)
	}
	defer provider.Close()

	extractor, err := capture.NewExtractor(0)
	if err != nil {
		log.Fatal("Failed to initialize extractor:", err)
	}

	fmt.Printf("Extracting frames from %s every %s\n", *videoPath, *interval)
	extracted, err := extractor.ExtractFrames(*videoPath, *interval)
	if err != nil {
		log.Fatal("Failed to extract frames:", err)
	}
	fmt.Printf("Extracted %d frames\n", len(extracted))

	ctx := context.Background()
	base := time.Now().Add(-time.Duration(len(extracted)) * *interval)

	indexed := 0
	for _, frame := range extracted {
		embedding, err := provider.EmbedImage(ctx, frame.Data)
		if err != nil {
			log.Printf("Skipping frame at %s: %v", frame.Offset, err)
			continue
		}

		_, err = frames.Insert(ctx, &store.Frame{
			SessionName: sessionName,
			Location:    *location,
			Timestamp:   base.Add(frame.Offset).UnixMilli(),
			ImageData:   frame.Data,
			Embedding:   vectormath.Normalize(embedding),
		})
		if err != nil {
			log.Fatal("Failed to store frame:", err)
		}
		indexed++
		fmt.Printf("\rIndexed %d/%d frames", indexed, len(extracted))
	}
	fmt.Printf("\nDone: session %q at %q, %d frames\n", sessionName, *location, indexed)
}
