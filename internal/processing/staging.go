package processing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/task"
)

// RenderRequest is what a Renderer draws into a room photo.
type RenderRequest struct {
	Style    string
	RoomType string
	Items    []Item
}

// Renderer composes selected furniture into a room image.
type Renderer interface {
	Render(ctx context.Context, room image.Image, req RenderRequest) (image.Image, error)
}

// LocalRenderer marks each selected item as a translucent footprint along
// the floor of the photo. It needs no external service.
type LocalRenderer struct{}

var _ Renderer = LocalRenderer{}

// roomWidthMetres is the room width the photo is assumed to span.
const roomWidthMetres = 5.0

var categoryColors = map[string]color.NRGBA{
	"sofa":     {R: 96, G: 125, B: 139, A: 255},
	"table":    {R: 141, G: 110, B: 99, A: 255},
	"tv stand": {R: 69, G: 90, B: 100, A: 255},
	"lighting": {R: 255, G: 213, B: 79, A: 255},
	"bookcase": {R: 121, G: 85, B: 72, A: 255},
}

// Render implements Renderer.
func (LocalRenderer) Render(ctx context.Context, room image.Image, req RenderRequest) (image.Image, error) {
	out := imaging.Clone(room)
	bounds := out.Bounds()
	pxPerMetre := float64(bounds.Dx()) / roomWidthMetres
	floorTop := bounds.Dy() * 2 / 3

	x := 0
	for _, it := range req.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := clamp(int(it.Size.X*pxPerMetre), 1, bounds.Dx())
		h := clamp(int(it.Size.Z*pxPerMetre), 1, bounds.Dy()-floorTop)
		if x+w > bounds.Dx() {
			x = 0
		}
		block := imaging.New(w, h, swatch(it))
		out = imaging.Overlay(out, block, image.Pt(x, bounds.Dy()-h), 0.55)
		x += w
	}
	return out, nil
}

func swatch(it Item) color.NRGBA {
	for _, key := range []string{normalize(it.Category), normalize(it.SuperCategory)} {
		if c, ok := categoryColors[key]; ok {
			return c
		}
	}
	return color.NRGBA{R: 158, G: 158, B: 158, A: 255}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// VirtualStagingHandler selects furniture for the requested style and
// budget and renders it into the uploaded room.
type VirtualStagingHandler struct {
	images   ImageStore
	catalog  *Catalog
	renderer Renderer
	logger   *slog.Logger
}

var _ task.Handler = (*VirtualStagingHandler)(nil)

// NewVirtualStagingHandler creates a VirtualStagingHandler. A nil catalog
// uses DefaultCatalog and a nil renderer uses LocalRenderer.
func NewVirtualStagingHandler(
	images ImageStore,
	catalog *Catalog,
	renderer Renderer,
	logger *slog.Logger,
) *VirtualStagingHandler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if renderer == nil {
		renderer = LocalRenderer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VirtualStagingHandler{
		images:   images,
		catalog:  catalog,
		renderer: renderer,
		logger:   logger.With(slog.String("handler", "virtual_staging")),
	}
}

// Process implements task.Handler.
func (h *VirtualStagingHandler) Process(ctx context.Context, in task.Input) (*task.Result, error) {
	params := in.Params.WithDefaults(domain.TaskTypeVirtual)

	sel := SelectFurniture(h.catalog, SelectionRequest{
		Style:  params.Style,
		Budget: float64(params.Budget),
	})
	if len(sel.Items) == 0 {
		return nil, task.NewProcessingError(
			fmt.Sprintf("no %s furniture fits a budget of %d", params.Style, params.Budget), nil)
	}

	h.logger.InfoContext(ctx, "furniture selected",
		slog.String("task_id", in.TaskID),
		slog.String("style", params.Style),
		slog.Int("items", len(sel.Items)),
		slog.Float64("total", sel.Total))

	room, err := h.images.Open(in.InputRef)
	if err != nil {
		return nil, task.NewProcessingError("failed to open input image", err)
	}

	staged, err := h.renderer.Render(ctx, room, RenderRequest{
		Style:    params.Style,
		RoomType: params.RoomType,
		Items:    sel.Items,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, task.NewProcessingError("failed to render staged room", err)
	}

	ref, err := h.images.SaveOutput(in.TaskID+"_staged.png", staged)
	if err != nil {
		return nil, task.NewProcessingError("failed to save staged image", err)
	}

	extras := make([]domain.ExtraResult, 0, len(sel.Items))
	for _, it := range sel.Items {
		preview, err := h.images.SaveOutput(PreviewName(in.TaskID, it.ModelID), RenderPreview(it))
		if err != nil {
			return nil, task.NewProcessingError("failed to save furniture preview", err)
		}
		extras = append(extras, domain.ExtraResult{
			ID:       it.ModelID,
			Category: it.Category,
			Style:    it.Style,
			Price:    it.Price,
			Ref:      preview,
		})
	}

	return &task.Result{OutputRef: ref, ExtraResults: extras}, nil
}

// previewPxPerMetre scales an item's footprint into its preview image.
const previewPxPerMetre = 100

// PreviewName is the output file name of an item's preview for a task.
func PreviewName(taskID, modelID string) string {
	return taskID + "_" + modelID + ".png"
}

// RenderPreview draws an item's footprint to scale in its category colour,
// framed by a darker border.
func RenderPreview(it Item) image.Image {
	w := clamp(int(it.Size.X*previewPxPerMetre), 16, 512)
	h := clamp(int(it.Size.Z*previewPxPerMetre), 16, 512)

	fill := swatch(it)
	border := color.NRGBA{R: fill.R / 2, G: fill.G / 2, B: fill.B / 2, A: 255}
	card := imaging.New(w, h, border)
	inner := imaging.New(w-4, h-4, fill)
	return imaging.Paste(card, inner, image.Pt(2, 2))
}
