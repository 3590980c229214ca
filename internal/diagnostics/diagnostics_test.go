package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectSystem(t *testing.T) {
	info := CollectSystem(context.Background(), t.TempDir())
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.DataDir)
}

func TestCollectSystem_MissingDataDirFallsBack(t *testing.T) {
	info := CollectSystem(context.Background(), "/definitely/not/here")
	assert.NotEqual(t, "/definitely/not/here", info.DataDir)
}

func TestRunChecks(t *testing.T) {
	results := RunChecks(context.Background(), time.Second,
		Probe{Name: "config", Run: func(context.Context) (string, error) { return "loaded", nil }},
		Probe{Name: "redis", Optional: true, Run: func(context.Context) (string, error) { return "", errors.New("refused") }},
		Probe{Name: "store", Run: func(context.Context) (string, error) { return "", errors.New("locked") }},
		Probe{Name: "boom", Run: func(context.Context) (string, error) { panic("bad probe") }},
	)
	require.Len(t, results, 4)

	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, "loaded", results[0].Detail)
	assert.Equal(t, StatusWarn, results[1].Status)
	assert.Equal(t, StatusFail, results[2].Status)
	assert.Equal(t, "locked", results[2].Detail)
	assert.Equal(t, StatusFail, results[3].Status)
	assert.Contains(t, results[3].Detail, "bad probe")

	assert.False(t, Healthy(results))
	assert.True(t, Healthy(results[:2]))
}

func TestRunChecks_Timeout(t *testing.T) {
	results := RunChecks(context.Background(), 10*time.Millisecond, Probe{
		Name: "slow",
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	require.Len(t, results, 1)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.Contains(t, results[0].Detail, "deadline")
}

func TestResourceMonitor_Snapshot(t *testing.T) {
	m := NewResourceMonitor(time.Second, DefaultThresholds(), 10, func() int { return 3 }, nil)
	s := m.TakeSnapshot()
	assert.False(t, s.Timestamp.IsZero())
	assert.Positive(t, s.Goroutines)
	assert.Equal(t, 3, s.ActiveRuns)
}

func TestResourceMonitor_StartStop(t *testing.T) {
	m := NewResourceMonitor(10*time.Millisecond, Thresholds{}, 3, nil, nil)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return len(m.History()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	assert.LessOrEqual(t, len(m.History()), 3)
	_, ok := m.Latest()
	assert.True(t, ok)
}

func TestTrend(t *testing.T) {
	now := time.Now()
	assert.True(t, trendOf(nil).IsHealthy)

	leaking := []Snapshot{
		{Timestamp: now, Goroutines: 10, HeapAllocMB: 10, OpenFDs: 10},
		{Timestamp: now.Add(time.Hour), Goroutines: 500, HeapAllocMB: 20, OpenFDs: 12},
	}
	tr := trendOf(leaking)
	assert.False(t, tr.IsHealthy)
	assert.InDelta(t, 490, tr.GoroutineGrowthRate, 0.01)
	require.Len(t, tr.Warnings, 1)
	assert.Contains(t, tr.Warnings[0], "goroutine")

	tooShort := []Snapshot{{Timestamp: now}, {Timestamp: now.Add(time.Second), Goroutines: 1000}}
	assert.True(t, trendOf(tooShort).IsHealthy)
}

func TestCheckThresholds(t *testing.T) {
	th := Thresholds{Goroutines: 100, HeapMB: 100, OpenFDs: 10}

	assert.Empty(t, checkThresholds(Snapshot{Goroutines: 50, HeapAllocMB: 50, OpenFDs: 5}, th))

	warnings := checkThresholds(Snapshot{Goroutines: 250, HeapAllocMB: 120, OpenFDs: 11}, th)
	require.Len(t, warnings, 3)
	assert.Equal(t, "goroutine", warnings[0].Type)
	assert.Equal(t, "critical", warnings[0].Level)
	assert.Equal(t, "memory", warnings[1].Type)
	assert.Equal(t, "warning", warnings[1].Level)
	assert.Equal(t, "fd", warnings[2].Type)

	assert.Empty(t, checkThresholds(Snapshot{Goroutines: 1e6}, Thresholds{}))
}
