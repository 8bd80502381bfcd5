// seed inserts demo pipeline settings, pending items, a recurring task and
// sync settings into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/infrastructure/postgres"
	"github.com/Matschula1987/heiba-rms-sub001/internal/pipeline"
	"github.com/Matschula1987/heiba-rms-sub001/internal/scheduler"
	"github.com/Matschula1987/heiba-rms-sub001/internal/syncer"
	"github.com/jonboulle/clockwork"
)

type itemSpec struct {
	entityID string
	priority int
	template string
}

var items = []itemSpec{
	// High priority — dispatched first
	{"job-1001", 9, "new_job_announcement"},
	{"job-1002", 9, "new_job_announcement"},

	// Normal priority
	{"job-1003", 5, "job_highlight"},
	{"job-1004", 5, "job_highlight"},
	{"job-1005", 5, "job_highlight"},

	// Backfill — picked up once the daily budget allows
	{"job-1006", 1, "job_reminder"},
	{"job-1007", 1, "job_reminder"},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	clock := clockwork.NewRealClock()

	sched := scheduler.NewScheduler(
		postgres.NewTaskRepository(pool),
		postgres.NewLogRepository(pool),
		clock, logger, 5*time.Minute,
	)
	dispatcher := pipeline.NewDispatcher(postgres.NewPipelineRepository(pool), sched, clock, logger)
	coordinator := syncer.NewCoordinator(postgres.NewSyncRepository(pool), sched, clock, logger)

	platform := "linkedin"
	settings, err := dispatcher.UpsertSettings(ctx, &domain.PipelineSettings{
		PipelineType:       "social_media",
		Platform:           &platform,
		DailyLimit:         5,
		PostingHours:       []int{9, 12, 15},
		PostingDays:        []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		MinIntervalMinutes: 30,
		Enabled:            true,
	})
	if err != nil {
		log.Fatalf("upsert pipeline settings: %v", err)
	}

	var enqueued int
	for _, spec := range items {
		params, _ := json.Marshal(map[string]string{"job_id": spec.entityID})
		_, err := dispatcher.Enqueue(ctx, pipeline.EnqueueInput{
			PipelineType:    "social_media",
			Platform:        &platform,
			EntityType:      "job",
			EntityID:        spec.entityID,
			Priority:        spec.priority,
			ContentTemplate: spec.template,
			ContentParams:   params,
		})
		if err != nil {
			log.Fatalf("enqueue item %s: %v", spec.entityID, err)
		}
		enqueued++
	}

	task, err := sched.Create(ctx, scheduler.CreateTaskInput{
		TaskType:     "cleanup_expired_jobs",
		ScheduledFor: time.Now().Add(time.Minute),
		IntervalType: domain.IntervalDaily,
		MaxAttempts:  3,
	})
	if err != nil {
		log.Fatalf("create recurring task: %v", err)
	}

	syncRow, err := coordinator.SaveSettings(ctx, &domain.SyncSettings{
		EntityType:   "job_portal",
		EntityID:     "portal-stepstone",
		TaskType:     "portal_sync",
		IntervalType: domain.IntervalHourly,
		Enabled:      true,
	})
	if err != nil {
		log.Fatalf("save sync settings: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Pipeline settings: social_media/%s (daily limit %d, window %v)\n",
		platform, settings.DailyLimit, settings.PostingHours)
	fmt.Printf("  Items enqueued:    %d\n", enqueued)
	fmt.Printf("  Recurring task:    %s (%s)\n", task.ID, task.TaskType)
	fmt.Printf("  Sync settings:     %s → next sync %v\n", syncRow.ID, syncRow.NextSync)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — start the API and the scheduler:")
	fmt.Println()
	fmt.Println("    go run ./cmd/server")
	fmt.Println("    go run ./cmd/scheduler")
	fmt.Println()
	fmt.Println("  Step 2 — trigger a dispatch cycle (or wait for the poll loop):")
	fmt.Println()
	fmt.Println("    curl -s -X POST 'http://localhost:8080/pipeline/dispatch/social_media?platform=linkedin'")
	fmt.Println()
	fmt.Println("  Step 3 — watch items move pending → scheduled → posted:")
	fmt.Println()
	fmt.Println("    curl -s 'http://localhost:8080/pipeline/items?pipeline_type=social_media&platform=linkedin'")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    job-1001..1002  →  scheduled first (priority 9)")
	fmt.Println("    job-1006..1007  →  wait for tomorrow's budget (daily limit 5)")
}
