package async

import (
	"context"
	"slices"
	"time"

	"go.uber.org/atomic"
)

var trackWaitStats = atomic.NewBool(false)

// TrackTaskWaitStatistics toggles the collection of the time tasks spend
// blocked on pipes. It is read by tasks at every wait, and toggled by the
// driver between phases.
func TrackTaskWaitStatistics(enabled bool) { trackWaitStats.Store(enabled) }

// TrackingWaitStatistics reports whether wait statistics are collected.
func TrackingWaitStatistics() bool { return trackWaitStats.Load() }

type taskStats struct {
	name string
	wait *atomic.Duration
}

type statsKey struct{}

func withTaskStats(ctx context.Context, stats *taskStats) context.Context {
	return context.WithValue(ctx, statsKey{}, stats)
}

func (s *Scope) newTaskStats(name string) *taskStats {
	stats := &taskStats{name: name, wait: atomic.NewDuration(0)}
	s.mu.Lock()
	s.stats = append(s.stats, stats)
	s.mu.Unlock()
	return stats
}

// StartWait marks the calling task of ctx as blocked. The returned function
// must be called when the task resumes.
func StartWait(ctx context.Context) func() {
	if !trackWaitStats.Load() {
		return func() {}
	}
	stats, ok := ctx.Value(statsKey{}).(*taskStats)
	if !ok {
		return func() {}
	}
	start := time.Now()
	return func() { stats.wait.Add(time.Since(start)) }
}

// WaitStat is the total time a task spent blocked.
type WaitStat struct {
	Task string
	Wait time.Duration
}

// WaitStats returns the wait time of every task of s that waited, longest
// first.
func (s *Scope) WaitStats() []WaitStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WaitStat, 0, len(s.stats))
	for _, st := range s.stats {
		if w := st.wait.Load(); w > 0 {
			out = append(out, WaitStat{Task: st.name, Wait: w})
		}
	}
	slices.SortFunc(out, func(a, b WaitStat) int {
		switch {
		case a.Wait > b.Wait:
			return -1
		case a.Wait < b.Wait:
			return 1
		default:
			return 0
		}
	})
	return out
}
