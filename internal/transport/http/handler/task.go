package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/repository"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

func NewTaskHandler(sched *scheduler.Scheduler, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{sched: sched, logger: logger.With("component", "task_handler")}
}

type createTaskRequest struct {
	TaskType      string                 `json:"task_type"      binding:"required,max=128"`
	ScheduledFor  time.Time              `json:"scheduled_for"`
	IntervalType  domain.IntervalType    `json:"interval_type"  binding:"omitempty,oneof=once hourly daily weekly monthly custom cron"`
	IntervalValue int                    `json:"interval_value" binding:"omitempty,min=1,max=1000"`
	CronExpr      string                 `json:"cron_expr"`
	Custom        *domain.CustomSchedule `json:"custom_schedule"`
	Config        json.RawMessage        `json:"config"`
	EntityType    *string                `json:"entity_type"`
	EntityID      *string                `json:"entity_id"`
	MaxAttempts   int                    `json:"max_attempts"   binding:"omitempty,min=0,max=20"`
}

type updateTaskRequest struct {
	Status        *domain.Status         `json:"status"         binding:"omitempty,oneof=pending cancelled"`
	ScheduledFor  *time.Time             `json:"scheduled_for"`
	IntervalType  *domain.IntervalType   `json:"interval_type"  binding:"omitempty,oneof=once hourly daily weekly monthly custom cron"`
	IntervalValue *int                   `json:"interval_value" binding:"omitempty,min=1,max=1000"`
	CronExpr      *string                `json:"cron_expr"`
	Custom        *domain.CustomSchedule `json:"custom_schedule"`
	Config        json.RawMessage        `json:"config"`
	NextRun       *time.Time             `json:"next_run"`
	MaxAttempts   *int                   `json:"max_attempts"   binding:"omitempty,min=0,max=20"`
}

type taskResponse struct {
	ID            string                 `json:"id"`
	TaskType      string                 `json:"task_type"`
	Status        domain.Status          `json:"status"`
	ScheduledFor  time.Time              `json:"scheduled_for"`
	IntervalType  domain.IntervalType    `json:"interval_type"`
	IntervalValue int                    `json:"interval_value,omitempty"`
	CronExpr      *string                `json:"cron_expr,omitempty"`
	Custom        *domain.CustomSchedule `json:"custom_schedule,omitempty"`
	Config        json.RawMessage        `json:"config,omitempty"`
	EntityType    *string                `json:"entity_type,omitempty"`
	EntityID      *string                `json:"entity_id,omitempty"`
	NextRun       *time.Time             `json:"next_run,omitempty"`
	LastRun       *time.Time             `json:"last_run,omitempty"`
	Result        *string                `json:"result,omitempty"`
	LastError     *string                `json:"last_error,omitempty"`
	Attempts      int                    `json:"attempts"`
	MaxAttempts   int                    `json:"max_attempts,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toTaskResponse(t *domain.ScheduledTask) taskResponse {
	return taskResponse{
		ID:            t.ID,
		TaskType:      t.TaskType,
		Status:        t.Status,
		ScheduledFor:  t.ScheduledFor,
		IntervalType:  t.IntervalType,
		IntervalValue: t.IntervalValue,
		CronExpr:      t.CronExpr,
		Custom:        t.Custom,
		Config:        t.Config,
		EntityType:    t.EntityType,
		EntityID:      t.EntityID,
		NextRun:       t.NextRun,
		LastRun:       t.LastRun,
		Result:        t.Result,
		LastError:     t.LastError,
		Attempts:      t.Attempts,
		MaxAttempts:   t.MaxAttempts,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (h *TaskHandler) Create(ctx *gin.Context) {
	var req createTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.sched.Create(ctx.Request.Context(), scheduler.CreateTaskInput{
		TaskType:      req.TaskType,
		ScheduledFor:  req.ScheduledFor,
		IntervalType:  req.IntervalType,
		IntervalValue: req.IntervalValue,
		CronExpr:      req.CronExpr,
		Custom:        req.Custom,
		Config:        req.Config,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		MaxAttempts:   req.MaxAttempts,
	})
	if err != nil {
		h.respondTaskError(ctx, err, "create task", "")
		return
	}

	ctx.JSON(http.StatusCreated, toTaskResponse(task))
}

func (h *TaskHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	input := repository.ListTasksInput{
		Status:   domain.Status(ctx.Query("status")),
		TaskType: ctx.Query("task_type"),
		CursorID: ctx.Query("cursor_id"),
		Limit:    limit,
	}
	if raw := ctx.Query("cursor_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "cursor_time must be RFC3339"})
			return
		}
		input.CursorTime = &t
	}

	tasks, err := h.sched.List(ctx.Request.Context(), input)
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		items[i] = toTaskResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{"tasks": items})
}

func (h *TaskHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	task, err := h.sched.Get(ctx.Request.Context(), id)
	if err != nil {
		h.respondTaskError(ctx, err, "get task", id)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(task))
}

func (h *TaskHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.sched.Update(ctx.Request.Context(), id, repository.TaskPatch{
		Status:        req.Status,
		ScheduledFor:  req.ScheduledFor,
		IntervalType:  req.IntervalType,
		IntervalValue: req.IntervalValue,
		CronExpr:      req.CronExpr,
		Custom:        req.Custom,
		Config:        req.Config,
		NextRun:       req.NextRun,
		MaxAttempts:   req.MaxAttempts,
	})
	if err != nil {
		h.respondTaskError(ctx, err, "update task", id)
		return
	}
	ctx.JSON(http.StatusOK, toTaskResponse(task))
}

func (h *TaskHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.sched.Cancel(ctx.Request.Context(), id); err != nil {
		h.respondTaskError(ctx, err, "cancel task", id)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *TaskHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.sched.Delete(ctx.Request.Context(), id); err != nil {
		h.respondTaskError(ctx, err, "delete task", id)
		return
	}
	ctx.Status(http.StatusNoContent)
}

type logResponse struct {
	ID        string           `json:"id"`
	TaskID    string           `json:"task_id"`
	TaskType  string           `json:"task_type"`
	Action    domain.LogAction `json:"action"`
	Status    domain.Status    `json:"status"`
	Details   string           `json:"details,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (h *TaskHandler) Logs(ctx *gin.Context) {
	id := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	logs, err := h.sched.Logs(ctx.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("list task logs", "task_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]logResponse, len(logs))
	for i, l := range logs {
		items[i] = logResponse{
			ID:        l.ID,
			TaskID:    l.TaskID,
			TaskType:  l.TaskType,
			Action:    l.Action,
			Status:    l.Status,
			Details:   l.Details,
			CreatedAt: l.CreatedAt,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": items})
}

func (h *TaskHandler) respondTaskError(ctx *gin.Context, err error, op, id string) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
	case errors.Is(err, domain.ErrInvalidInterval):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidInterval})
	case errors.Is(err, domain.ErrInvalidCronExpr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr})
	case errors.Is(err, domain.ErrInvalidCustomSchedule):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCustom})
	case errors.Is(err, domain.ErrScheduleUnsatisfiable):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errScheduleImpossible})
	default:
		h.logger.Error(op, "task_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
