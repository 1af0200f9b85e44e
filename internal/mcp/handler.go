package mcp

import (
	"context"
	"encoding/json"

	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/models"
)

type SlideSource interface {
	Snapshot() models.DisplaySet
}

type Rotator interface {
	State() models.RotationState
	Pause()
	Resume()
	Select(i int) bool
	RefreshNow(ctx context.Context) error
}

type Handler struct {
	slides  SlideSource
	rotator Rotator
	logger  *logging.Logger
}

func NewHandler(slides SlideSource, rotator Rotator, logger *logging.Logger) *Handler {
	return &Handler{
		slides:  slides,
		rotator: rotator,
		logger:  logger,
	}
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Resource URIs served by resources/read.
const (
	DisplaySetURI = "newspanel://display-set"
	RotationURI   = "newspanel://rotation"
)

type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

type selectParams struct {
	Index *int `json:"index"`
}

var emptySchema = json.RawMessage(`{"type": "object", "properties": {}}`)

func (h *Handler) GetTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_slides",
			Description: "Get the slides currently on the panel together with the rotation state.",
			InputSchema: emptySchema,
		},
		{
			Name:        "get_current_slide",
			Description: "Get the slide being shown right now.",
			InputSchema: emptySchema,
		},
		{
			Name:        "select_slide",
			Description: "Jump to a slide by position (0-based). Out of range positions are clamped.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"index": {
						"type": "integer",
						"description": "Slide position"
					}
				},
				"required": ["index"]
			}`),
		},
		{
			Name:        "pause_rotation",
			Description: "Stop advancing slides automatically.",
			InputSchema: emptySchema,
		},
		{
			Name:        "resume_rotation",
			Description: "Resume advancing slides automatically.",
			InputSchema: emptySchema,
		},
		{
			Name:        "refresh_feed",
			Description: "Fetch the news feed now instead of waiting for the next scheduled refresh.",
			InputSchema: emptySchema,
		},
	}
}

func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments json.RawMessage) (interface{}, error) {
	switch name {
	case "get_slides":
		return models.SlidesResponse{Set: h.slides.Snapshot(), Rotation: h.rotator.State()}, nil
	case "get_current_slide":
		return h.handleCurrent()
	case "select_slide":
		return h.handleSelect(arguments)
	case "pause_rotation":
		h.rotator.Pause()
		return h.rotator.State(), nil
	case "resume_rotation":
		h.rotator.Resume()
		return h.rotator.State(), nil
	case "refresh_feed":
		return h.handleRefresh(ctx)
	default:
		return nil, &ToolError{Message: "Unknown tool: " + name}
	}
}

func (h *Handler) GetResources() []ResourceDefinition {
	return []ResourceDefinition{
		{
			URI:         DisplaySetURI,
			Name:        "Display set",
			Description: "The slides built by the last successful refresh.",
			MimeType:    "application/json",
		},
		{
			URI:         RotationURI,
			Name:        "Rotation state",
			Description: "Active slide index and whether the panel advances on its own.",
			MimeType:    "application/json",
		},
	}
}

// ReadResource returns the current value behind uri.
func (h *Handler) ReadResource(uri string) (interface{}, error) {
	switch uri {
	case DisplaySetURI:
		return h.slides.Snapshot(), nil
	case RotationURI:
		return h.rotator.State(), nil
	default:
		return nil, &ToolError{Message: "Unknown resource: " + uri}
	}
}

func (h *Handler) handleCurrent() (interface{}, error) {
	set := h.slides.Snapshot()
	if set.Len() == 0 {
		return nil, &ToolError{Message: "no slides available yet"}
	}
	state := h.rotator.State()
	index := state.Index
	if index >= set.Len() {
		index = set.Len() - 1
	}
	return set.Items[index], nil
}

func (h *Handler) handleSelect(arguments json.RawMessage) (interface{}, error) {
	var params selectParams
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &params); err != nil {
			return nil, &ToolError{Message: "Invalid arguments: " + err.Error()}
		}
	}
	if params.Index == nil {
		return nil, &ToolError{Message: "index is required"}
	}
	if !h.rotator.Select(*params.Index) {
		return nil, &ToolError{Message: "no slides available yet"}
	}
	return h.rotator.State(), nil
}

func (h *Handler) handleRefresh(ctx context.Context) (interface{}, error) {
	if err := h.rotator.RefreshNow(ctx); err != nil {
		h.logger.Warn("Manual refresh failed", logging.WithField("error", err.Error()))
		return nil, err
	}
	set := h.slides.Snapshot()
	return map[string]interface{}{
		"status":  "success",
		"items":   set.Len(),
		"version": set.Version,
	}, nil
}
