// Package interaction implements the Interaction Ingestor (spec §4.6):
// session resolution, per-event commit, and windowed scene-watch segment
// reconstruction via a playback state machine (§4.6.1).
package interaction

import (
	"sort"

	"github.com/stashsense/orchestrator/pkg/models"
)

// ReplayEvent is one control or synthetic-progress event fed to the
// playback state machine, already stripped down to the fields it cares
// about. Events must be supplied in chronological order.
type ReplayEvent struct {
	Type     string
	Position *float64
	From     *float64
	To       *float64
}

func ptr(v float64) *float64 { return &v }

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// replaySegments runs the §4.6.1 playback state machine over a chronological
// event sequence and returns the merged [start_s, end_s] intervals it
// produced. mergeGap is the tolerance used to merge adjacent intervals
// emitted within this single replay (MERGE_GAP_SECONDS).
func replaySegments(events []ReplayEvent, mergeGap float64) []models.Interval {
	var lastPlayStart *float64
	var lastPosition *float64
	var out []models.Interval

	emit := func(start, end *float64) {
		if start == nil || end == nil {
			return
		}
		if *end > *start {
			out = append(out, models.Interval{Start: *start, End: *end})
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case models.EventTypeSceneWatchStart:
			pos := firstNonNil(ev.Position, lastPosition, ptr(0))
			lastPlayStart = pos
			lastPosition = pos

		case models.EventTypeSceneWatchProgress:
			if ev.Position != nil {
				lastPosition = ev.Position
			}
			if lastPlayStart == nil {
				lastPlayStart = lastPosition
			}

		case models.EventTypeSceneWatchPause, models.EventTypeSceneWatchComplete:
			pos := firstNonNil(ev.Position, lastPosition, lastPlayStart)
			emit(lastPlayStart, pos)
			lastPlayStart = nil

		case models.EventTypeSceneSeek:
			wasPlaying := lastPlayStart != nil
			if wasPlaying {
				from := firstNonNil(ev.From, lastPosition)
				emit(lastPlayStart, from)
			}
			if ev.To != nil {
				lastPosition = ev.To
				if wasPlaying {
					lastPlayStart = ev.To
				} else {
					lastPlayStart = nil
				}
			}
		}
	}

	// Still "playing" at the end of the replay window: emit the open interval.
	emit(lastPlayStart, lastPosition)

	return mergeIntervals(out, mergeGap)
}

// mergeIntervals sorts intervals by start and merges any pair whose gap is
// at most `gap` seconds, matching the replay's own merge pass (§4.6.1) and
// reused for the larger "merge with existing persisted segments" step (§4.6).
func mergeIntervals(intervals []models.Interval, gap float64) []models.Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]models.Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []models.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End+gap {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
