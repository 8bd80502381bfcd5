package scheduler

import (
	"context"
	"sync"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

// Executor runs the opaque payload of one task type. The core hands over
// task.Config, task.EntityType and task.EntityID and interprets nothing.
type Executor interface {
	Execute(ctx context.Context, task *domain.ScheduledTask) (result string, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *domain.ScheduledTask) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *domain.ScheduledTask) (string, error) {
	return f(ctx, task)
}

// Registry maps task types to executors. Registration happens at startup;
// Resolve is called from worker goroutines.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = e
}

func (r *Registry) Resolve(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[taskType]
	return e, ok
}
