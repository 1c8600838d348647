// Package kpi implements the progress arithmetic and the per-day history of goal KPIs.
package kpi

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Entry is one recorded measurement. Date is a calendar day (YYYY-MM-DD).
type Entry struct {
	Date      string    `json:"date"`
	Value     float64   `json:"value"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type KPI struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Baseline    float64 `json:"baseline"`
	Target      float64 `json:"target"`
	Actual      float64 `json:"actual"`
	Progress    float64 `json:"progress"`
	History     []Entry `json:"history"`
}

// Progress is (actual-baseline)/(target-baseline) clamped to [0,1]. When target equals
// baseline there is no range to cover: the KPI counts as met (1) once actual reaches the
// target, otherwise 0.
func Progress(baseline, target, actual float64) float64 {
	if target == baseline {
		if actual >= target {
			return 1
		}
		return 0
	}
	return clamp((actual - baseline) / (target - baseline))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Day formats t as the calendar day used for history entries, in t's location.
func Day(t time.Time) string {
	return t.Format(dateLayout)
}

// Record adds a measurement for the calendar day of at. A measurement for a day that
// already has one replaces it. History stays sorted newest first and Actual mirrors
// the newest entry.
func Record(k KPI, at time.Time, value float64, note string) KPI {
	day := Day(at)
	history := make([]Entry, 0, len(k.History)+1)
	for _, entry := range k.History {
		if entry.Date != day {
			history = append(history, entry)
		}
	}
	history = append(history, Entry{Date: day, Value: value, Note: note, UpdatedAt: at})
	k.History = history
	return Recompute(k)
}

// Recompute sorts history and derives Actual and Progress from it. With no history,
// Actual is left as stored.
func Recompute(k KPI) KPI {
	sort.SliceStable(k.History, func(i, j int) bool {
		return k.History[i].Date > k.History[j].Date
	})
	if len(k.History) > 0 {
		k.Actual = k.History[0].Value
	}
	k.Progress = Progress(k.Baseline, k.Target, k.Actual)
	return k
}

// ValidDate reports whether s is a YYYY-MM-DD day.
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// ParseDay parses a YYYY-MM-DD day at noon UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(12 * time.Hour), nil
}
