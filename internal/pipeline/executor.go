package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

// Publisher delivers one pipeline item to its destination and returns an
// opaque result reference (post URL, message id).
type Publisher interface {
	Publish(ctx context.Context, item *domain.PipelineItem) (string, error)
}

// PostExecutor is the scheduled-task executor behind every pipeline task
// type. It resolves the item via the task's back-reference, delegates to
// the Publisher and records the outcome on the item so the item and task
// state machines stay in step.
type PostExecutor struct {
	dispatcher *Dispatcher
	publisher  Publisher
}

func NewPostExecutor(dispatcher *Dispatcher, publisher Publisher) *PostExecutor {
	return &PostExecutor{dispatcher: dispatcher, publisher: publisher}
}

func (e *PostExecutor) Execute(ctx context.Context, task *domain.ScheduledTask) (string, error) {
	if task.EntityType == nil || *task.EntityType != domain.PipelineItemEntityType || task.EntityID == nil {
		return "", errors.New("dispatch task has no pipeline item reference")
	}

	item, err := e.dispatcher.GetItem(ctx, *task.EntityID)
	if err != nil {
		return "", fmt.Errorf("resolve pipeline item: %w", err)
	}

	result, err := e.publisher.Publish(ctx, item)
	if err != nil {
		if markErr := e.dispatcher.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
			return "", errors.Join(err, markErr)
		}
		return "", err
	}

	if err := e.dispatcher.MarkPosted(ctx, item.ID, result); err != nil {
		return "", err
	}
	return result, nil
}

// LogPublisher is the stand-in destination used until a real platform
// adapter is wired in: it logs the item and reports success.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, item *domain.PipelineItem) (string, error) {
	p.logger.Info("publishing pipeline item",
		"item_id", item.ID,
		"pipeline", item.PipelineType,
		"entity", item.EntityType+"/"+item.EntityID,
	)
	return "logged:" + item.ID, nil
}
