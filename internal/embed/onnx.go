package embed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/framesight/framesight/internal/vectormath"
)

// Channel statistics the vision encoder was trained with.
var (
	imageMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	imageStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ONNXConfig locates the encoder pair and its vocabulary on disk.
type ONNXConfig struct {
	// LibraryPath is the onnxruntime shared library. Empty means the
	// platform default lookup.
	LibraryPath string

	TextModelPath   string
	VisionModelPath string
	VocabPath       string

	// Dim is the joint embedding dimensionality. Defaults to 512.
	Dim int
	// ImageSize is the square input size of the vision encoder.
	// Defaults to 224.
	ImageSize int
}

// ONNXProvider implements Provider with a text encoder and a vision
// encoder sharing a joint embedding space, both served by onnxruntime.
// Load is long-running and meant to be called from a goroutine; until it
// completes both encoders report ErrModelNotReady.
type ONNXProvider struct {
	cfg    ONNXConfig
	cache  *Cache
	logger *slog.Logger

	mu        sync.RWMutex
	text      *Handle
	vision    *Handle
	tokenizer *Tokenizer
	ready     bool
}

type textModel struct {
	session *ort.DynamicSession[int64, float32]
}

func (m *textModel) Destroy() error { return m.session.Destroy() }

type visionModel struct {
	session *ort.DynamicSession[float32, float32]
}

func (m *visionModel) Destroy() error { return m.session.Destroy() }

// The onnxruntime environment is per-process; initialize it once.
var (
	ortInit    sync.Once
	ortInitErr error
)

func initRuntime(libPath string) error {
	ortInit.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func NewONNXProvider(cache *Cache, cfg ONNXConfig, logger *slog.Logger) *ONNXProvider {
	if cfg.Dim == 0 {
		cfg.Dim = 512
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 224
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXProvider{cfg: cfg, cache: cache, logger: logger}
}

// Load initializes the runtime, loads the vocabulary and acquires both
// encoder sessions through the model cache.
func (p *ONNXProvider) Load() error {
	if err := initRuntime(p.cfg.LibraryPath); err != nil {
		return fmt.Errorf("initializing onnx runtime: %w", err)
	}

	tokenizer, err := LoadTokenizer(p.cfg.VocabPath)
	if err != nil {
		return err
	}

	p.logger.Info("loading text encoder", "path", p.cfg.TextModelPath)
	text, err := p.cache.Acquire(p.cfg.TextModelPath, func(path string) (Model, error) {
		session, err := ort.NewDynamicSession[int64, float32](
			path,
			[]string{"input_ids", "attention_mask"},
			[]string{"last_hidden_state"},
		)
		if err != nil {
			return nil, err
		}
		return &textModel{session: session}, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("loading vision encoder", "path", p.cfg.VisionModelPath)
	vision, err := p.cache.Acquire(p.cfg.VisionModelPath, func(path string) (Model, error) {
		session, err := ort.NewDynamicSession[float32, float32](
			path,
			[]string{"pixel_values"},
			[]string{"image_embeds"},
		)
		if err != nil {
			return nil, err
		}
		return &visionModel{session: session}, nil
	})
	if err != nil {
		text.Release()
		return err
	}

	p.mu.Lock()
	p.text = text
	p.vision = vision
	p.tokenizer = tokenizer
	p.ready = true
	p.mu.Unlock()

	p.logger.Info("embedding encoders ready", "dim", p.cfg.Dim)
	return nil
}

// Close releases both encoder handles. The models are destroyed once no
// other consumer holds them.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false

	var firstErr error
	if p.text != nil {
		firstErr = p.text.Release()
		p.text = nil
	}
	if p.vision != nil {
		if err := p.vision.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.vision = nil
	}
	return firstErr
}

func (p *ONNXProvider) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// EmbedText runs the text encoder and mean-pools the token states into a
// single L2-normalized vector.
func (p *ONNXProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	p.mu.RLock()
	ready := p.ready
	handle := p.text
	tokenizer := p.tokenizer
	p.mu.RUnlock()

	if !ready {
		return nil, ErrModelNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := tokenizer.Encode(text)
	seqLen := int64(len(ids))

	attention := make([]int64, seqLen)
	for i := range attention {
		attention[i] = 1
	}

	shape := []int64{1, seqLen}
	tIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	defer tIDs.Destroy()

	tMask, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	defer tMask.Destroy()

	dim := p.cfg.Dim
	outputData := make([]float32, seqLen*int64(dim))
	tOut, err := ort.NewTensor([]int64{1, seqLen, int64(dim)}, outputData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	defer tOut.Destroy()

	session := handle.Model().(*textModel).session
	if err := session.Run(
		[]*ort.Tensor[int64]{tIDs, tMask},
		[]*ort.Tensor[float32]{tOut},
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}

	embedding := make([]float32, dim)
	for i := int64(0); i < seqLen; i++ {
		start := i * int64(dim)
		for j := 0; j < dim; j++ {
			embedding[j] += outputData[start+int64(j)]
		}
	}
	for j := range embedding {
		embedding[j] /= float32(seqLen)
	}

	return vectormath.Normalize(embedding), nil
}

// EmbedImage decodes imageData, letterboxes it to the encoder input size
// and runs the vision encoder, returning an L2-normalized vector.
func (p *ONNXProvider) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	p.mu.RLock()
	ready := p.ready
	handle := p.vision
	p.mu.RUnlock()

	if !ready {
		return nil, ErrModelNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrEmbeddingFailure, err)
	}

	pixels := p.preprocess(img)
	size := p.cfg.ImageSize

	tIn, err := ort.NewTensor([]int64{1, 3, int64(size), int64(size)}, pixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	defer tIn.Destroy()

	dim := p.cfg.Dim
	outputData := make([]float32, dim)
	tOut, err := ort.NewTensor([]int64{1, int64(dim)}, outputData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	defer tOut.Destroy()

	session := handle.Model().(*visionModel).session
	if err := session.Run(
		[]*ort.Tensor[float32]{tIn},
		[]*ort.Tensor[float32]{tOut},
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}

	embedding := make([]float32, dim)
	copy(embedding, outputData)
	return vectormath.Normalize(embedding), nil
}

// preprocess resizes img to the encoder's square input and lays it out as
// a standardized CHW float tensor.
func (p *ONNXProvider) preprocess(img image.Image) []float32 {
	size := p.cfg.ImageSize

	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			idx := y*size + x
			pixels[idx] = (float32(r>>8)/255 - imageMean[0]) / imageStd[0]
			pixels[plane+idx] = (float32(g>>8)/255 - imageMean[1]) / imageStd[1]
			pixels[2*plane+idx] = (float32(b>>8)/255 - imageMean[2]) / imageStd[2]
		}
	}
	return pixels
}
