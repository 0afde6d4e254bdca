package api

import (
	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/service"
)

// ProcessTaskRequest is the payload of POST /process-task.
// The decoration fields only apply to virtual staging.
type ProcessTaskRequest struct {
	TaskID          string `json:"task_id"                    validate:"required"`
	TaskType        string `json:"task_type"                  validate:"required"`
	DecorationStyle string `json:"decoration_style,omitempty" validate:"omitempty,max=64"`
	MaxPrice        *int   `json:"max_price,omitempty"        validate:"omitempty,gte=0"`
	RoomType        string `json:"room_type,omitempty"        validate:"omitempty,max=64"`
}

// params converts the optional decoration fields into task params.
func (r ProcessTaskRequest) params() domain.Params {
	p := domain.Params{Style: r.DecorationStyle, RoomType: r.RoomType}
	if r.MaxPrice != nil {
		p.Budget = *r.MaxPrice
	}
	return p
}

// UploadResponse is returned by POST /upload-image.
type UploadResponse struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"task_id"`
	TaskType    string `json:"task_type"`
	OriginalURL string `json:"original_url"`
	Message     string `json:"message"`
	Status      string `json:"status"`
}

// ProcessTaskResponse is returned by POST /process-task.
type ProcessTaskResponse struct {
	Success    bool           `json:"success"`
	TaskID     string         `json:"task_id"`
	TaskType   string         `json:"task_type"`
	Message    string         `json:"message"`
	Status     string         `json:"status"`
	TaskParams *domain.Params `json:"task_params,omitempty"`
}

// FurnitureItem is one selected piece in a completed virtual staging result.
type FurnitureItem struct {
	ModelID  string  `json:"model_id"`
	Category string  `json:"category,omitempty"`
	Style    string  `json:"style,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// FurnitureImage links a selected piece to its preview image.
type FurnitureImage struct {
	ModelID  string `json:"model_id"`
	ImageURL string `json:"image_url"`
}

// TaskResultResponse is returned by GET /task/{taskID}/result. Which fields
// are set depends on Status.
type TaskResultResponse struct {
	Success         bool             `json:"success"`
	Status          string           `json:"status"`
	TaskID          string           `json:"task_id"`
	Message         string           `json:"message,omitempty"`
	ProcessedURL    string           `json:"processed_url,omitempty"`
	OriginalURL     string           `json:"original_url,omitempty"`
	FurnitureList   []FurnitureItem  `json:"furniture_list,omitempty"`
	FurnitureImages []FurnitureImage `json:"furniture_images,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	service.HealthReport
	Backends map[string]string `json:"backends,omitempty"`
}

// pollToResponse converts a poll result into its wire form.
func pollToResponse(res *service.PollResult) TaskResultResponse {
	out := TaskResultResponse{
		Success: res.Status != domain.TaskStatusFailed,
		Status:  string(res.Status),
		TaskID:  res.TaskID,
		Message: res.Message,
	}

	switch res.Status {
	case domain.TaskStatusCompleted:
		out.ProcessedURL = res.OutputRef
		out.OriginalURL = res.OriginalRef
		for _, extra := range res.ExtraResults {
			out.FurnitureList = append(out.FurnitureList, FurnitureItem{
				ModelID:  extra.ID,
				Category: extra.Category,
				Style:    extra.Style,
				Price:    extra.Price,
			})
			if extra.Ref != "" {
				out.FurnitureImages = append(out.FurnitureImages, FurnitureImage{
					ModelID:  extra.ID,
					ImageURL: extra.Ref,
				})
			}
		}
	case domain.TaskStatusFailed:
		out.Error = res.Error
		if out.Error == "" {
			out.Error = service.MessageFailed
		}
	}
	return out
}
