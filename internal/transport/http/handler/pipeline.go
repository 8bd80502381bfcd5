package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/pipeline"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/gin-gonic/gin"
)

type PipelineHandler struct {
	dispatcher *pipeline.Dispatcher
	logger     *slog.Logger
}

func NewPipelineHandler(dispatcher *pipeline.Dispatcher, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{dispatcher: dispatcher, logger: logger.With("component", "pipeline_handler")}
}

type createItemRequest struct {
	PipelineType    string          `json:"pipeline_type"    binding:"required,max=64"`
	Platform        *string         `json:"platform"         binding:"omitempty,max=64"`
	EntityType      string          `json:"entity_type"      binding:"required,max=64"`
	EntityID        string          `json:"entity_id"        binding:"required,max=128"`
	Priority        int             `json:"priority"         binding:"omitempty,min=0,max=100"`
	ScheduledFor    *time.Time      `json:"scheduled_for"`
	ContentTemplate string          `json:"content_template"`
	ContentParams   json.RawMessage `json:"content_params"`
}

type itemResponse struct {
	ID              string            `json:"id"`
	PipelineType    string            `json:"pipeline_type"`
	Platform        *string           `json:"platform,omitempty"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	Status          domain.ItemStatus `json:"status"`
	Priority        int               `json:"priority"`
	ScheduledFor    *time.Time        `json:"scheduled_for,omitempty"`
	ScheduledTaskID *string           `json:"scheduled_task_id,omitempty"`
	ContentTemplate string            `json:"content_template,omitempty"`
	ContentParams   json.RawMessage   `json:"content_params,omitempty"`
	PostedAt        *time.Time        `json:"posted_at,omitempty"`
	Result          *string           `json:"result,omitempty"`
	Error           *string           `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toItemResponse(it *domain.PipelineItem) itemResponse {
	return itemResponse{
		ID:              it.ID,
		PipelineType:    it.PipelineType,
		Platform:        it.Platform,
		EntityType:      it.EntityType,
		EntityID:        it.EntityID,
		Status:          it.Status,
		Priority:        it.Priority,
		ScheduledFor:    it.ScheduledFor,
		ScheduledTaskID: it.ScheduledTaskID,
		ContentTemplate: it.ContentTemplate,
		ContentParams:   it.ContentParams,
		PostedAt:        it.PostedAt,
		Result:          it.Result,
		Error:           it.Error,
		CreatedAt:       it.CreatedAt,
		UpdatedAt:       it.UpdatedAt,
	}
}

func (h *PipelineHandler) CreateItem(ctx *gin.Context) {
	var req createItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.dispatcher.Enqueue(ctx.Request.Context(), pipeline.EnqueueInput{
		PipelineType:    req.PipelineType,
		Platform:        req.Platform,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Priority:        req.Priority,
		ScheduledFor:    req.ScheduledFor,
		ContentTemplate: req.ContentTemplate,
		ContentParams:   req.ContentParams,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSettingsNotFound):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errSettingsNotFound})
		case errors.Is(err, domain.ErrPipelineDisabled):
			ctx.JSON(http.StatusConflict, gin.H{"error": errPipelineDisabled})
		default:
			h.logger.Error("enqueue item", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toItemResponse(item))
}

func (h *PipelineHandler) GetItem(ctx *gin.Context) {
	id := ctx.Param("id")

	item, err := h.dispatcher.GetItem(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errItemNotFound})
			return
		}
		h.logger.Error("get item", "item_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, toItemResponse(item))
}

func (h *PipelineHandler) ListItems(ctx *gin.Context) {
	pipelineType := ctx.Query("pipeline_type")
	if pipelineType == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "pipeline_type is required"})
		return
	}
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	input := repository.ListItemsInput{
		PipelineType: pipelineType,
		Status:       domain.ItemStatus(ctx.Query("status")),
		Limit:        limit,
	}
	if platform := ctx.Query("platform"); platform != "" {
		input.Platform = &platform
	}

	items, err := h.dispatcher.ListItems(ctx.Request.Context(), input)
	if err != nil {
		h.logger.Error("list items", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = toItemResponse(it)
	}
	ctx.JSON(http.StatusOK, gin.H{"items": out})
}

// Dispatch triggers one planning cycle for a destination on demand, outside
// the background poll loop.
func (h *PipelineHandler) Dispatch(ctx *gin.Context) {
	pipelineType := ctx.Param("type")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	var platform *string
	if p := ctx.Query("platform"); p != "" {
		platform = &p
	}

	n, err := h.dispatcher.DispatchPending(ctx.Request.Context(), pipelineType, platform, limit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSettingsNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errSettingsNotFound})
		case errors.Is(err, domain.ErrInvalidSettings):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errInvalidSettings})
		default:
			h.logger.Error("dispatch", "pipeline", pipelineType, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"scheduled": n})
}

type upsertSettingsRequest struct {
	PipelineType       string         `json:"pipeline_type"        binding:"required,max=64"`
	Platform           *string        `json:"platform"             binding:"omitempty,max=64"`
	DailyLimit         int            `json:"daily_limit"          binding:"omitempty,min=0,max=10000"`
	PostingHours       []int          `json:"posting_hours"        binding:"omitempty,dive,min=0,max=23"`
	PostingDays        []time.Weekday `json:"posting_days"         binding:"omitempty,dive,min=0,max=6"`
	MinIntervalMinutes int            `json:"min_interval_minutes" binding:"omitempty,min=0,max=1440"`
	Enabled            bool           `json:"enabled"`
}

type settingsResponse struct {
	ID                 string         `json:"id"`
	PipelineType       string         `json:"pipeline_type"`
	Platform           *string        `json:"platform,omitempty"`
	DailyLimit         int            `json:"daily_limit"`
	PostingHours       []int          `json:"posting_hours,omitempty"`
	PostingDays        []time.Weekday `json:"posting_days,omitempty"`
	MinIntervalMinutes int            `json:"min_interval_minutes"`
	Enabled            bool           `json:"enabled"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func toSettingsResponse(s *domain.PipelineSettings) settingsResponse {
	return settingsResponse{
		ID:                 s.ID,
		PipelineType:       s.PipelineType,
		Platform:           s.Platform,
		DailyLimit:         s.DailyLimit,
		PostingHours:       s.PostingHours,
		PostingDays:        s.PostingDays,
		MinIntervalMinutes: s.MinIntervalMinutes,
		Enabled:            s.Enabled,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func (h *PipelineHandler) UpsertSettings(ctx *gin.Context) {
	var req upsertSettingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := h.dispatcher.UpsertSettings(ctx.Request.Context(), &domain.PipelineSettings{
		PipelineType:       req.PipelineType,
		Platform:           req.Platform,
		DailyLimit:         req.DailyLimit,
		PostingHours:       req.PostingHours,
		PostingDays:        req.PostingDays,
		MinIntervalMinutes: req.MinIntervalMinutes,
		Enabled:            req.Enabled,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSettings) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSettings})
			return
		}
		h.logger.Error("upsert settings", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, toSettingsResponse(saved))
}

func (h *PipelineHandler) ListSettings(ctx *gin.Context) {
	all, err := h.dispatcher.ListSettings(ctx.Request.Context())
	if err != nil {
		h.logger.Error("list settings", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]settingsResponse, len(all))
	for i, s := range all {
		out[i] = toSettingsResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": out})
}
