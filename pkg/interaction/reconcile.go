package interaction

import "github.com/stashsense/orchestrator/pkg/models"

// SegmentExpansion is an existing segment row whose bounds should be
// widened in place to the given interval.
type SegmentExpansion struct {
	ID    int64
	Start float64
	End   float64
}

// SegmentPlan is the DB reconciliation plan for one (session, scene) pair's
// merged watch intervals against its currently-persisted segments.
type SegmentPlan struct {
	Expand    []SegmentExpansion
	Insert    []models.Interval
	DeleteIDs []int64
}

// reconcileSegments implements spec §4.6 step 3's reconciliation rule: for
// each merged interval, the existing segment with the largest overlap is
// expanded in place; every other existing segment overlapping it is
// superseded and deleted. Intervals with no overlapping existing segment
// become new rows. Existing segments below minDuration are always deleted,
// even if they don't overlap anything in this batch's merged set.
func reconcileSegments(merged []models.Interval, existing []models.SceneWatchSegment, minDuration float64) SegmentPlan {
	var plan SegmentPlan
	consumed := make(map[int64]bool, len(existing))

	for _, iv := range merged {
		bestID := int64(0)
		bestOverlap := 0.0
		found := false
		for _, seg := range existing {
			if consumed[seg.ID] {
				continue
			}
			overlap := overlapLength(iv, models.Interval{Start: seg.StartS, End: seg.EndS})
			if overlap <= 0 {
				continue
			}
			if !found || overlap > bestOverlap {
				bestID, bestOverlap, found = seg.ID, overlap, true
			}
		}
		if found {
			consumed[bestID] = true
			plan.Expand = append(plan.Expand, SegmentExpansion{ID: bestID, Start: iv.Start, End: iv.End})
		} else {
			plan.Insert = append(plan.Insert, iv)
		}
	}

	for _, seg := range existing {
		if consumed[seg.ID] {
			continue
		}
		duration := seg.EndS - seg.StartS
		if duration < minDuration || overlapsAny(seg, merged) {
			plan.DeleteIDs = append(plan.DeleteIDs, seg.ID)
		}
	}

	return plan
}

func overlapLength(a, b models.Interval) float64 {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if end <= start {
		return 0
	}
	return end - start
}

func overlapsAny(seg models.SceneWatchSegment, intervals []models.Interval) bool {
	for _, iv := range intervals {
		if overlapLength(iv, models.Interval{Start: seg.StartS, End: seg.EndS}) > 0 {
			return true
		}
	}
	return false
}
