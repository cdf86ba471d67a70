// Package goal holds the pure decision functions applied to consecutive
// follower counts: goal crossing, change detection and history summaries.
package goal

import "github.com/JakeFAU/follower-tracker/internal/tracker"

// Reached reports whether a "goal reached" event fires for the transition
// from previous to next. It is edge-triggered: it fires only when next is at
// or above the goal and previous was unknown or below it.
func Reached(previous, next, goal *int64) bool {
	if next == nil || goal == nil {
		return false
	}
	if *next < *goal {
		return false
	}
	return previous == nil || *previous < *goal
}

// Changed reports whether two known counts differ, and by how much.
func Changed(previous, next *int64) (delta int64, changed bool) {
	d, ok := diff(previous, next)
	if !ok || d == 0 {
		return 0, false
	}
	return d, true
}

// Summary describes a channel's recent history.
type Summary struct {
	Latest *int64 `json:"latest"`
	// Trend is last minus previous among the non-null points.
	Trend *int64 `json:"trend"`
	Count int    `json:"count"`
}

// Summarize computes a Summary over snapshots in ascending order.
func Summarize(snaps []tracker.Snapshot) Summary {
	summary := Summary{Count: len(snaps)}
	var last, prev *int64
	for _, s := range snaps {
		if s.FollowerCount == nil {
			continue
		}
		prev, last = last, s.FollowerCount
	}
	if last != nil {
		v := *last
		summary.Latest = &v
	}
	if delta, ok := diff(prev, last); ok {
		summary.Trend = &delta
	}
	return summary
}

func diff(previous, next *int64) (int64, bool) {
	if previous == nil || next == nil {
		return 0, false
	}
	return *next - *previous, true
}
