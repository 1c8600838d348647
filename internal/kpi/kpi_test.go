package kpi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	assert.InDelta(t, 0.4, Progress(0, 100, 40), 1e-9)
	assert.Equal(t, 0.0, Progress(0, 100, -5))
	assert.Equal(t, 1.0, Progress(0, 100, 150))
	// decreasing targets (e.g. defect rate 10 -> 2)
	assert.InDelta(t, 0.5, Progress(10, 2, 6), 1e-9)
	// target equals baseline
	assert.Equal(t, 1.0, Progress(5, 5, 5))
	assert.Equal(t, 1.0, Progress(5, 5, 7))
	assert.Equal(t, 0.0, Progress(5, 5, 4))
}

func TestRecordSameDayReplaces(t *testing.T) {
	today := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	k := KPI{Code: "REV", Baseline: 0, Target: 100}

	k = Record(k, today, 40, "")
	assert.Equal(t, 40.0, k.Actual)
	assert.InDelta(t, 0.4, k.Progress, 1e-9)

	k = Record(k, today.Add(5*time.Hour), 55, "afternoon update")
	require.Len(t, k.History, 1)
	assert.Equal(t, "2026-10-18", k.History[0].Date)
	assert.Equal(t, 55.0, k.History[0].Value)
	assert.Equal(t, 55.0, k.Actual)
	assert.InDelta(t, 0.55, k.Progress, 1e-9)
}

func TestRecordKeepsHistoryNewestFirst(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 10, d, 12, 0, 0, 0, time.UTC) }
	k := KPI{Baseline: 0, Target: 10}

	k = Record(k, day(10), 2, "")
	k = Record(k, day(15), 6, "")
	// a back-dated entry does not become the actual value
	k = Record(k, day(12), 9, "")

	require.Len(t, k.History, 3)
	assert.Equal(t, []string{"2026-10-15", "2026-10-12", "2026-10-10"},
		[]string{k.History[0].Date, k.History[1].Date, k.History[2].Date})
	assert.Equal(t, 6.0, k.Actual)
	assert.InDelta(t, 0.6, k.Progress, 1e-9)
}

func TestRecomputeWithoutHistory(t *testing.T) {
	k := Recompute(KPI{Baseline: 0, Target: 50, Actual: 25})
	assert.Equal(t, 25.0, k.Actual)
	assert.InDelta(t, 0.5, k.Progress, 1e-9)
}

func TestParseDay(t *testing.T) {
	assert.True(t, ValidDate("2026-02-28"))
	assert.False(t, ValidDate("28/02/2026"))

	at, err := ParseDay("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", Day(at))
}
