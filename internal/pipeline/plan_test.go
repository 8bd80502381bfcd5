package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/Matschula1987/heiba-rms-sub001/internal/pipeline"
)

func item(id string, priority int) *domain.PipelineItem {
	return &domain.PipelineItem{
		ID:           id,
		PipelineType: "social_media",
		Status:       domain.ItemPending,
		Priority:     priority,
	}
}

func enabledSettings() *domain.PipelineSettings {
	return &domain.PipelineSettings{
		PipelineType:       "social_media",
		DailyLimit:         10,
		MinIntervalMinutes: 30,
		Enabled:            true,
	}
}

func TestPlan_PriorityOrderAndSpacing(t *testing.T) {
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	items := []*domain.PipelineItem{item("a", 1), item("b", 9), item("c", 5)}

	plan, err := pipeline.PlanDispatchTimes(items, enabledSettings(), now)
	if err != nil {
		t.Fatalf("PlanDispatchTimes() error = %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("planned %d items, want 3", len(plan))
	}

	wantOrder := []string{"b", "c", "a"}
	for i, w := range wantOrder {
		if plan[i].Item.ID != w {
			t.Errorf("plan[%d].Item.ID = %q, want %q", i, plan[i].Item.ID, w)
		}
		wantAt := now.Add(time.Duration(i*30) * time.Minute)
		if !plan[i].At.Equal(wantAt) {
			t.Errorf("plan[%d].At = %v, want %v", i, plan[i].At, wantAt)
		}
	}
}

func TestPlan_SnapsIntoPostingHours(t *testing.T) {
	// 13:50 with allowed hours {9, 14}: first item snaps to 14:00, the second
	// stays inside the 14:00 hour at 14:30, the third rolls over to 09:00
	// the next day.
	now := time.Date(2025, 3, 3, 13, 50, 0, 0, time.UTC)
	settings := enabledSettings()
	settings.PostingHours = []int{9, 14}

	items := []*domain.PipelineItem{item("a", 3), item("b", 2), item("c", 1)}
	plan, err := pipeline.PlanDispatchTimes(items, settings, now)
	if err != nil {
		t.Fatalf("PlanDispatchTimes() error = %v", err)
	}

	want := []time.Time{
		time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC),
		time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	for i, w := range want {
		if !plan[i].At.Equal(w) {
			t.Errorf("plan[%d].At = %v, want %v", i, plan[i].At, w)
		}
	}
}

func TestPlan_KeepsMinutesInsideAllowedHour(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)
	settings := enabledSettings()
	settings.PostingHours = []int{9, 14}

	plan, err := pipeline.PlanDispatchTimes([]*domain.PipelineItem{item("a", 1)}, settings, now)
	if err != nil {
		t.Fatalf("PlanDispatchTimes() error = %v", err)
	}
	if !plan[0].At.Equal(now) {
		t.Errorf("plan[0].At = %v, want cursor kept at %v", plan[0].At, now)
	}
}

func TestPlan_SkipsDisallowedWeekdays(t *testing.T) {
	// Saturday with a Mon-Fri window: everything lands on Monday at the
	// first allowed hour.
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) // Saturday
	settings := enabledSettings()
	settings.PostingHours = []int{9, 14}
	settings.PostingDays = []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}

	plan, err := pipeline.PlanDispatchTimes([]*domain.PipelineItem{item("a", 1)}, settings, now)
	if err != nil {
		t.Fatalf("PlanDispatchTimes() error = %v", err)
	}
	want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // Monday 09:00
	if !plan[0].At.Equal(want) {
		t.Errorf("plan[0].At = %v, want %v", plan[0].At, want)
	}
}

func TestPlan_TimestampsNeverDecrease(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 45, 0, 0, time.UTC)
	settings := enabledSettings()
	settings.PostingHours = []int{9, 11}
	settings.MinIntervalMinutes = 45

	var items []*domain.PipelineItem
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		items = append(items, item(id, 0))
	}
	plan, err := pipeline.PlanDispatchTimes(items, settings, now)
	if err != nil {
		t.Fatalf("PlanDispatchTimes() error = %v", err)
	}
	for i := 1; i < len(plan); i++ {
		if plan[i].At.Before(plan[i-1].At) {
			t.Errorf("plan[%d].At = %v before plan[%d].At = %v", i, plan[i].At, i-1, plan[i-1].At)
		}
	}
}

func TestPlan_DisabledPipeline(t *testing.T) {
	settings := enabledSettings()
	settings.Enabled = false

	_, err := pipeline.PlanDispatchTimes([]*domain.PipelineItem{item("a", 1)}, settings, time.Now())
	if !errors.Is(err, domain.ErrPipelineDisabled) {
		t.Errorf("PlanDispatchTimes() error = %v, want ErrPipelineDisabled", err)
	}
}

func TestPlan_RejectsInvalidWindow(t *testing.T) {
	settings := enabledSettings()
	settings.PostingHours = []int{9, 25}

	_, err := pipeline.PlanDispatchTimes([]*domain.PipelineItem{item("a", 1)}, settings, time.Now())
	if !errors.Is(err, domain.ErrInvalidSettings) {
		t.Errorf("PlanDispatchTimes() error = %v, want ErrInvalidSettings", err)
	}
}
