package processing

import (
	"context"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/phrazzld/vista-api/internal/task"
)

// DefaultMaxDimension caps the longest side of an upscaled image.
const DefaultMaxDimension = 4096

// ImageStore reads task inputs and writes produced images.
type ImageStore interface {
	Open(ref string) (image.Image, error)
	SaveOutput(name string, img image.Image) (string, error)
}

// DenoiseConfig tunes the denoise pipeline.
type DenoiseConfig struct {
	UpscaleFactor float64
	Sigma         float64
	MaxDimension  int
}

// DenoiseHandler upscales an image with Lanczos resampling, then smooths
// noise with a gaussian blur and restores edges with a sharpen pass.
type DenoiseHandler struct {
	images ImageStore
	cfg    DenoiseConfig
	logger *slog.Logger
}

var _ task.Handler = (*DenoiseHandler)(nil)

// NewDenoiseHandler creates a DenoiseHandler.
func NewDenoiseHandler(images ImageStore, cfg DenoiseConfig, logger *slog.Logger) *DenoiseHandler {
	if cfg.UpscaleFactor < 1 {
		cfg.UpscaleFactor = 1
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DenoiseHandler{
		images: images,
		cfg:    cfg,
		logger: logger.With(slog.String("handler", "denoise")),
	}
}

// Process implements task.Handler.
func (h *DenoiseHandler) Process(ctx context.Context, in task.Input) (*task.Result, error) {
	img, err := h.images.Open(in.InputRef)
	if err != nil {
		return nil, task.NewProcessingError("failed to open input image", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := Denoise(img, h.cfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := h.images.SaveOutput(in.TaskID+"_processed.jpg", out)
	if err != nil {
		return nil, task.NewProcessingError("failed to save processed image", err)
	}

	h.logger.DebugContext(ctx, "denoise finished",
		slog.String("task_id", in.TaskID),
		slog.Int("width", out.Bounds().Dx()),
		slog.Int("height", out.Bounds().Dy()))

	return &task.Result{OutputRef: ref}, nil
}

// Denoise applies the upscale, blur and sharpen pipeline to img.
func Denoise(img image.Image, cfg DenoiseConfig) *image.NRGBA {
	w, h := upscaledSize(img.Bounds().Dx(), img.Bounds().Dy(), cfg.UpscaleFactor, cfg.MaxDimension)
	out := imaging.Resize(img, w, h, imaging.Lanczos)
	if cfg.Sigma > 0 {
		out = imaging.Blur(out, cfg.Sigma)
		out = imaging.Sharpen(out, cfg.Sigma/2)
	}
	return out
}

// upscaledSize scales w x h by factor, shrinking the result to fit maxDim
// while keeping the aspect ratio. The image never shrinks below its input.
func upscaledSize(w, h int, factor float64, maxDim int) (int, int) {
	if factor < 1 {
		factor = 1
	}
	longest := math.Max(float64(w), float64(h))
	if maxDim > 0 && longest*factor > float64(maxDim) {
		factor = math.Max(1, float64(maxDim)/longest)
	}
	return int(math.Round(float64(w) * factor)), int(math.Round(float64(h) * factor))
}
