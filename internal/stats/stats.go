// Package stats derives summary statistics from completed batch items.
// Everything here is a pure function over a snapshot; nothing is persisted.
package stats

import (
	"sort"

	"omrgrader/internal/model"
)

// PassThreshold is the accuracy (percent) at or above which a sheet passes.
const PassThreshold = 50.0

// Aggregate computes batch statistics over the completed items of a
// snapshot, in input order. Items that are not completed are ignored.
//
// totalQuestions is taken from the first scored item; a batch is assumed to
// share one answer key. Items that disagree set MixedKeyLengths on the
// result and are still averaged as reported; the caller decides how to
// surface the condition.
func Aggregate(items []model.BatchItem) model.AggregatedStats {
	var out model.AggregatedStats

	var sumAcc, sumScore float64
	passed := 0
	for i, it := range items {
		if it.Status != model.StatusCompleted {
			continue
		}
		if out.ScoredCount == 0 {
			out.TotalQuestions = it.TotalQuestions
			out.Highest = scoreRef(i, it)
			out.Lowest = scoreRef(i, it)
		} else {
			if it.TotalQuestions != out.TotalQuestions {
				out.MixedKeyLengths = true
			}
			// First-wins tie-break: only a strictly better score moves the ref.
			if it.Score > out.Highest.Score {
				out.Highest = scoreRef(i, it)
			}
			if it.Score < out.Lowest.Score {
				out.Lowest = scoreRef(i, it)
			}
		}
		out.ScoredCount++
		sumAcc += it.Accuracy
		sumScore += float64(it.Score)

		switch {
		case it.Accuracy >= 90:
			out.Distribution.Excellent++
		case it.Accuracy >= 75:
			out.Distribution.Good++
		case it.Accuracy >= 50:
			out.Distribution.Average++
		default:
			out.Distribution.NeedsImprovement++
		}
		if it.Accuracy >= PassThreshold {
			passed++
		}
	}

	if out.ScoredCount > 0 {
		out.AvgAccuracy = sumAcc / float64(out.ScoredCount)
		out.AvgScore = sumScore / float64(out.ScoredCount)
		out.PassRate = float64(passed) / float64(out.ScoredCount)
	}
	return out
}

// MedianRef returns the completed item holding the median score. For an even
// count the lower middle is reported, so the reference always names a real
// sheet. ok is false when no item is completed.
func MedianRef(items []model.BatchItem) (ref model.ScoreRef, ok bool) {
	var scored []model.ScoreRef
	for i, it := range items {
		if it.Status == model.StatusCompleted {
			scored = append(scored, scoreRef(i, it))
		}
	}
	if len(scored) == 0 {
		return model.ScoreRef{}, false
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score < scored[b].Score })
	return scored[(len(scored)-1)/2], true
}

func scoreRef(i int, it model.BatchItem) model.ScoreRef {
	return model.ScoreRef{
		Index:      i,
		FileName:   it.FileName,
		RollNumber: it.RollNumber,
		Score:      it.Score,
	}
}
