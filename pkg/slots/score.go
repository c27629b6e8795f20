package slots

import (
	"time"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

const (
	urgencyWindowDays = 10
	morningBonus      = 5
	morningFromHour   = 8
	morningToHour     = 11
	eveningPenalty    = 3
	eveningFromHour   = 18
	longSlotBonus     = 2
	longSlot          = 2 * time.Hour
)

// Scorer ranks candidate slots for a task. Now anchors the day distance used
// for high priority tasks; nil means time.Now.
type Scorer struct {
	Now func() time.Time
}

func (s Scorer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Score adds up the heuristics for placing task in slot. Higher is better.
// The evening penalty applies regardless of pref.AvoidLateEvening.
func (s Scorer) Score(slot model.TimeSlot, task *model.Task, pref model.Preference) float64 {
	var score float64

	if task.Priority == model.PriorityHigh {
		days := daysBetween(s.now(), slot.Start)
		if bonus := urgencyWindowDays - days; bonus > 0 {
			score += float64(bonus)
		}
	}

	hour := slot.Start.Hour()
	if pref.PreferMorning && hour >= morningFromHour && hour <= morningToHour {
		score += morningBonus
	}
	if hour >= eveningFromHour {
		score -= eveningPenalty
	}
	if slot.Duration() >= longSlot {
		score += longSlotBonus
	}
	return score
}

// SelectBest returns the highest scoring slot. Equal scores go to the slot
// that starts first. The boolean is false when slots is empty.
func (s Scorer) SelectBest(slots []model.TimeSlot, task *model.Task, pref model.Preference) (model.TimeSlot, bool) {
	var (
		best      model.TimeSlot
		bestScore float64
		found     bool
	)
	for _, slot := range slots {
		score := s.Score(slot, task, pref)
		if !found || score > bestScore || (score == bestScore && slot.Start.Before(best.Start)) {
			best, bestScore, found = slot, score, true
		}
	}
	return best, found
}

// daysBetween counts calendar days from from to to, in to's location.
func daysBetween(from, to time.Time) int {
	loc := to.Location()
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
