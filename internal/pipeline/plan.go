package pipeline

import (
	"sort"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
)

// PlannedDispatch is one item with its assigned dispatch timestamp.
type PlannedDispatch struct {
	Item *domain.PipelineItem
	At   time.Time
}

// PlanDispatchTimes turns N pending items, a posting window and a minimum
// gap into a deterministic, monotonically non-decreasing sequence of
// dispatch timestamps. Items are assigned in priority-desc then
// scheduled-for-asc order; the cursor is re-snapped into the allowed
// hours/days window before every assignment, so spacing never pushes a
// dispatch outside the window. Pure: no I/O, no clock.
func PlanDispatchTimes(items []*domain.PipelineItem, settings *domain.PipelineSettings, now time.Time) ([]PlannedDispatch, error) {
	if settings == nil {
		return nil, domain.ErrSettingsNotFound
	}
	if !settings.Enabled {
		return nil, domain.ErrPipelineDisabled
	}
	if err := validateWindow(settings); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	ordered := append([]*domain.PipelineItem(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.ScheduledFor == nil && b.ScheduledFor == nil:
			return a.ID < b.ID
		case a.ScheduledFor == nil:
			return false
		case b.ScheduledFor == nil:
			return true
		case !a.ScheduledFor.Equal(*b.ScheduledFor):
			return a.ScheduledFor.Before(*b.ScheduledFor)
		default:
			return a.ID < b.ID
		}
	})

	gap := time.Duration(settings.MinIntervalMinutes) * time.Minute
	cursor := now

	plan := make([]PlannedDispatch, 0, len(ordered))
	for _, item := range ordered {
		at := snapToWindow(cursor, settings)
		plan = append(plan, PlannedDispatch{Item: item, At: at})
		cursor = at.Add(gap)
	}
	return plan, nil
}

// snapToWindow moves t forward to the nearest instant satisfying the
// posting-hours and posting-days constraints. An already-valid t is
// returned unchanged, minutes intact.
func snapToWindow(t time.Time, settings *domain.PipelineSettings) time.Time {
	t = snapHour(t, settings.PostingHours)

	if len(settings.PostingDays) == 0 || weekdayAllowed(settings.PostingDays, t.Weekday()) {
		return t
	}
	for i := 1; i <= 7; i++ {
		d := t.AddDate(0, 0, i)
		if weekdayAllowed(settings.PostingDays, d.Weekday()) {
			if len(settings.PostingHours) > 0 {
				hours := sortedHours(settings.PostingHours)
				y, m, day := d.Date()
				return time.Date(y, m, day, hours[0], 0, 0, 0, d.Location())
			}
			return d
		}
	}
	return t
}

func snapHour(t time.Time, postingHours []int) time.Time {
	if len(postingHours) == 0 {
		return t
	}
	hours := sortedHours(postingHours)
	for _, h := range hours {
		if h == t.Hour() {
			return t // inside an allowed hour, keep the minutes
		}
		if h > t.Hour() {
			y, m, d := t.Date()
			return time.Date(y, m, d, h, 0, 0, 0, t.Location())
		}
	}
	// Window exhausted for today; first allowed hour tomorrow.
	next := t.AddDate(0, 0, 1)
	y, m, d := next.Date()
	return time.Date(y, m, d, hours[0], 0, 0, 0, next.Location())
}

func validateWindow(settings *domain.PipelineSettings) error {
	for _, h := range settings.PostingHours {
		if h < 0 || h > 23 {
			return domain.ErrInvalidSettings
		}
	}
	for _, d := range settings.PostingDays {
		if d < time.Sunday || d > time.Saturday {
			return domain.ErrInvalidSettings
		}
	}
	if settings.MinIntervalMinutes < 0 || settings.DailyLimit < 0 {
		return domain.ErrInvalidSettings
	}
	return nil
}

func weekdayAllowed(days []time.Weekday, d time.Weekday) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

func sortedHours(hours []int) []int {
	out := append([]int(nil), hours...)
	sort.Ints(out)
	return out
}
