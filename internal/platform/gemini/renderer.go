package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"text/template"
	"time"

	"github.com/disintegration/imaging"
	"google.golang.org/genai"

	"github.com/phrazzld/vista-api/internal/config"
	"github.com/phrazzld/vista-api/internal/processing"
)

const promptText = `You are an interior designer. Furnish this empty {{.RoomType}} in a {{.Style}} style.
Place exactly the following pieces, keeping the walls, windows, floor and lighting of the photo unchanged:
{{range .Items}}- {{.Category}} ({{.ModelID}}), about {{printf "%.1f" .Size.X}} m wide and {{printf "%.1f" .Size.Z}} m deep
{{end}}Return one photorealistic image of the furnished room.`

var promptTemplate = template.Must(template.New("staging").Parse(promptText))

// contentGenerator is the slice of the genai client the renderer uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		cfg *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Renderer stages rooms with a Gemini image model.
type Renderer struct {
	models     contentGenerator
	model      string
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

var _ processing.Renderer = (*Renderer)(nil)

// NewRenderer creates a Renderer backed by the Gemini API.
func NewRenderer(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Renderer, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newRenderer(client.Models, cfg, logger), nil
}

func newRenderer(models contentGenerator, cfg config.LLMConfig, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	delay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Renderer{
		models:     models,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		baseDelay:  delay,
		logger:     logger.With(slog.String("component", "gemini_renderer")),
	}
}

// Render implements processing.Renderer.
func (r *Renderer) Render(ctx context.Context, room image.Image, req processing.RenderRequest) (image.Image, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	var photo bytes.Buffer
	if err := imaging.Encode(&photo, room, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode room image: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(photo.Bytes(), "image/png"),
		}, genai.RoleUser),
	}

	data, err := r.generateWithRetry(ctx, contents)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable image: %v", ErrInvalidResponse, err)
	}
	return img, nil
}

func buildPrompt(req processing.RenderRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", fmt.Errorf("%w: nothing to place", ErrInvalidConfig)
	}
	var b strings.Builder
	if err := promptTemplate.Execute(&b, req); err != nil {
		return "", fmt.Errorf("execute staging prompt: %w", err)
	}
	return b.String(), nil
}

// generateWithRetry calls the model with exponential backoff and jitter.
// Blocked or malformed responses are permanent and returned immediately.
func (r *Renderer) generateWithRetry(ctx context.Context, contents []*genai.Content) ([]byte, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}

	for attempt := 0; ; attempt++ {
		r.logger.InfoContext(ctx, "calling gemini",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", r.maxRetries+1))

		resp, err := r.models.GenerateContent(ctx, r.model, contents, cfg)
		if err == nil {
			data, perr := extractImage(resp)
			if perr == nil {
				return data, nil
			}
			r.logger.WarnContext(ctx, "permanent gemini error, not retrying", slog.Any("error", perr))
			return nil, perr
		}

		r.logger.ErrorContext(ctx, "gemini call failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))

		if attempt >= r.maxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				ErrTransientFailure, r.maxRetries, err)
		}

		backoff := float64(r.baseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrTransientFailure, ctx.Err())
		}
	}
}

func extractImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if cand.Content == nil {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	for _, part := range cand.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errors.Join(ErrInvalidResponse, errors.New("response carried no image"))
}
