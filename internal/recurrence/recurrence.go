// Package recurrence computes the next occurrence of a task's interval
// specification. It is pure: callers pass both the base time the interval is
// anchored on and the current time, so results are fully deterministic.
package recurrence

import (
	"sort"
	"time"

	"github.com/Matschula1987/heiba-rms-sub001/internal/domain"
	"github.com/robfig/cron/v3"
)

const (
	// monthApprox deliberately approximates a month as 30 days. Calendar-
	// accurate month arithmetic would shift every existing monthly schedule,
	// so the approximation is kept and documented rather than fixed.
	monthApprox = 30 * 24 * time.Hour

	// grace is added when a computed occurrence is not strictly in the
	// future, so a freshly re-armed task does not fire again immediately in
	// a tight poll loop.
	grace = 5 * time.Minute

	// maxExclusionSteps bounds the advance-one-day-and-retry loop on
	// pathological exclude lists (a leap year of consecutive exclusions).
	maxExclusionSteps = 366
)

// Next returns the next occurrence of spec strictly after now, anchored on
// base (typically the task's last run, or its original scheduled time before
// the first run). The second return is false for one-shot specs.
func Next(spec domain.RecurrenceSpec, base, now time.Time) (time.Time, bool, error) {
	if err := Validate(spec); err != nil {
		return time.Time{}, false, err
	}

	var next time.Time
	switch spec.IntervalType {
	case domain.IntervalOnce:
		return time.Time{}, false, nil
	case domain.IntervalHourly:
		next = base.Add(time.Duration(intervalValue(spec)) * time.Hour)
	case domain.IntervalDaily:
		next = base.AddDate(0, 0, intervalValue(spec))
	case domain.IntervalWeekly:
		next = base.AddDate(0, 0, 7*intervalValue(spec))
	case domain.IntervalMonthly:
		next = base.Add(time.Duration(intervalValue(spec)) * monthApprox)
	case domain.IntervalCron:
		sched, err := cron.ParseStandard(spec.CronExpr)
		if err != nil {
			return time.Time{}, false, domain.ErrInvalidCronExpr
		}
		next = sched.Next(base)
		// Skip runs missed while the task was not being polled.
		for !next.After(now) {
			next = sched.Next(next)
		}
	case domain.IntervalCustom:
		var err error
		next, err = nextCustom(spec.Custom, base, now)
		if err != nil {
			return time.Time{}, false, err
		}
	default:
		return time.Time{}, false, domain.ErrInvalidInterval
	}

	if !next.After(now) {
		next = now.Add(grace)
	}
	return next, true, nil
}

// Validate rejects malformed specs before they are persisted, so the poll
// path never has to decide what to do with one.
func Validate(spec domain.RecurrenceSpec) error {
	switch spec.IntervalType {
	case domain.IntervalOnce, domain.IntervalHourly, domain.IntervalDaily,
		domain.IntervalWeekly, domain.IntervalMonthly:
		return nil
	case domain.IntervalCron:
		if _, err := cron.ParseStandard(spec.CronExpr); err != nil {
			return domain.ErrInvalidCronExpr
		}
		return nil
	case domain.IntervalCustom:
		return validateCustom(spec.Custom)
	default:
		return domain.ErrInvalidInterval
	}
}

func validateCustom(cs *domain.CustomSchedule) error {
	if cs == nil {
		return domain.ErrInvalidCustomSchedule
	}
	for _, h := range cs.Hours {
		if h < 0 || h > 23 {
			return domain.ErrInvalidCustomSchedule
		}
	}
	for _, d := range cs.Days {
		if d < time.Sunday || d > time.Saturday {
			return domain.ErrInvalidCustomSchedule
		}
	}
	return nil
}

func intervalValue(spec domain.RecurrenceSpec) int {
	if spec.IntervalValue <= 0 {
		return 1
	}
	return spec.IntervalValue
}

// nextCustom applies the calendar rule. A future specific date overrides the
// hour/day rules entirely; excluded days advance the cursor one day and the
// rules re-run, bounded by maxExclusionSteps.
func nextCustom(cs *domain.CustomSchedule, base, now time.Time) (time.Time, error) {
	if d, ok := earliestFutureDate(cs, now); ok {
		return d, nil
	}

	cand := applyDayRule(cs, applyHourRule(cs, base))
	for i := 0; i < maxExclusionSteps; i++ {
		if !isExcludedDay(cs.ExcludeDates, cand) {
			return cand, nil
		}
		// Advance one day (snapping to the first listed hour when hours are
		// constrained) and re-apply the weekday rule.
		next := cand.AddDate(0, 0, 1)
		if hours := sortedHours(cs); len(hours) > 0 {
			next = atHour(next, hours[0])
		}
		cand = applyDayRule(cs, next)
	}
	return time.Time{}, domain.ErrScheduleUnsatisfiable
}

// applyHourRule snaps base to the next listed hour today, or the first
// listed hour tomorrow when none remains. With no hour constraint the
// default candidate is simply the same time tomorrow.
func applyHourRule(cs *domain.CustomSchedule, base time.Time) time.Time {
	hours := sortedHours(cs)
	if len(hours) == 0 {
		return base.AddDate(0, 0, 1)
	}
	for _, h := range hours {
		if h > base.Hour() {
			return atHour(base, h)
		}
	}
	return atHour(base.AddDate(0, 0, 1), hours[0])
}

// applyDayRule advances the candidate to the nearest following allowed
// weekday, re-snapping to the first listed hour on arrival.
func applyDayRule(cs *domain.CustomSchedule, cand time.Time) time.Time {
	if len(cs.Days) == 0 || containsDay(cs.Days, cand.Weekday()) {
		return cand
	}
	for i := 1; i <= 7; i++ {
		d := cand.AddDate(0, 0, i)
		if containsDay(cs.Days, d.Weekday()) {
			if hours := sortedHours(cs); len(hours) > 0 {
				return atHour(d, hours[0])
			}
			return d
		}
	}
	return cand
}

func sortedHours(cs *domain.CustomSchedule) []int {
	if len(cs.Hours) == 0 {
		return nil
	}
	hours := append([]int(nil), cs.Hours...)
	sort.Ints(hours)
	return hours
}

// earliestFutureDate returns the earliest non-excluded specific date after
// now, if the schedule lists any future date.
func earliestFutureDate(cs *domain.CustomSchedule, now time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range cs.SpecificDates {
		if !d.After(now) || isExcludedDay(cs.ExcludeDates, d) {
			continue
		}
		if !found || d.Before(best) {
			best = d
			found = true
		}
	}
	return best, found
}

func isExcludedDay(excluded []time.Time, t time.Time) bool {
	for _, e := range excluded {
		if sameDay(e, t) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

func atHour(t time.Time, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, t.Location())
}
