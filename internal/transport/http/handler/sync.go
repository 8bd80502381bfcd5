package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/syncer"
	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	coord  *syncer.Coordinator
	logger *slog.Logger
}

func NewSyncHandler(coord *syncer.Coordinator, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{coord: coord, logger: logger.With("component", "sync_handler")}
}

type saveSyncRequest struct {
	EntityType    string                 `json:"entity_type"    binding:"required,max=64"`
	EntityID      string                 `json:"entity_id"      binding:"required,max=128"`
	TaskType      string                 `json:"task_type"      binding:"required,max=128"`
	Config        json.RawMessage        `json:"config"`
	IntervalType  domain.IntervalType    `json:"interval_type"  binding:"required,oneof=once hourly daily weekly monthly custom cron"`
	IntervalValue int                    `json:"interval_value" binding:"omitempty,min=1,max=1000"`
	CronExpr      *string                `json:"cron_expr"`
	Custom        *domain.CustomSchedule `json:"custom_schedule"`
	Enabled       bool                   `json:"enabled"`
}

type recordSyncRequest struct {
	SyncedAt time.Time `json:"synced_at" binding:"required"`
}

type syncResponse struct {
	ID            string                 `json:"id"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	TaskType      string                 `json:"task_type"`
	Config        json.RawMessage        `json:"config,omitempty"`
	IntervalType  domain.IntervalType    `json:"interval_type"`
	IntervalValue int                    `json:"interval_value,omitempty"`
	CronExpr      *string                `json:"cron_expr,omitempty"`
	Custom        *domain.CustomSchedule `json:"custom_schedule,omitempty"`
	LastSync      *time.Time             `json:"last_sync,omitempty"`
	NextSync      *time.Time             `json:"next_sync,omitempty"`
	Enabled       bool                   `json:"enabled"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toSyncResponse(s *domain.SyncSettings) syncResponse {
	return syncResponse{
		ID:            s.ID,
		EntityType:    s.EntityType,
		EntityID:      s.EntityID,
		TaskType:      s.TaskType,
		Config:        s.Config,
		IntervalType:  s.IntervalType,
		IntervalValue: s.IntervalValue,
		CronExpr:      s.CronExpr,
		Custom:        s.Custom,
		LastSync:      s.LastSync,
		NextSync:      s.NextSync,
		Enabled:       s.Enabled,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (h *SyncHandler) Save(ctx *gin.Context) {
	var req saveSyncRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := h.coord.SaveSettings(ctx.Request.Context(), &domain.SyncSettings{
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		TaskType:      req.TaskType,
		Config:        req.Config,
		IntervalType:  req.IntervalType,
		IntervalValue: req.IntervalValue,
		CronExpr:      req.CronExpr,
		Custom:        req.Custom,
		Enabled:       req.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInterval):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidInterval})
		case errors.Is(err, domain.ErrInvalidCronExpr):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr})
		case errors.Is(err, domain.ErrInvalidCustomSchedule):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCustom})
		case errors.Is(err, domain.ErrScheduleUnsatisfiable):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errScheduleImpossible})
		default:
			h.logger.Error("save sync settings", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}
	ctx.JSON(http.StatusOK, toSyncResponse(saved))
}

func (h *SyncHandler) Get(ctx *gin.Context) {
	entityType := ctx.Param("entityType")
	entityID := ctx.Param("entityId")

	s, err := h.coord.Get(ctx.Request.Context(), entityType, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrSyncSettingsNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errSyncNotFound})
			return
		}
		h.logger.Error("get sync settings", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, toSyncResponse(s))
}

func (h *SyncHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	all, err := h.coord.List(ctx.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list sync settings", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]syncResponse, len(all))
	for i, s := range all {
		out[i] = toSyncResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": out})
}

func (h *SyncHandler) Delete(ctx *gin.Context) {
	entityType := ctx.Param("entityType")
	entityID := ctx.Param("entityId")

	if err := h.coord.Delete(ctx.Request.Context(), entityType, entityID); err != nil {
		if errors.Is(err, domain.ErrSyncSettingsNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errSyncNotFound})
			return
		}
		h.logger.Error("delete sync settings", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// RecordSync is called by external integrations after a sync run completes
// out of band; the coordinator advances last_sync/next_sync accordingly.
func (h *SyncHandler) RecordSync(ctx *gin.Context) {
	entityType := ctx.Param("entityType")
	entityID := ctx.Param("entityId")

	var req recordSyncRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.coord.UpdateLastSync(ctx.Request.Context(), entityType, entityID, req.SyncedAt)
	if err != nil {
		if errors.Is(err, domain.ErrSyncSettingsNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errSyncNotFound})
			return
		}
		h.logger.Error("record sync", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, toSyncResponse(s))
}
