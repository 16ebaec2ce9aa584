// Package scoring folds judged contest submissions into ranking entries.
// Everything here is pure: no clocks, no storage, no randomness. The same
// entry and the same sequence of submissions always produce the same state,
// which is what makes redelivered events safe to replay upstream.
package scoring

import (
	"time"

	"github.com/nageing/nano-oj-backend/internal/contest/model"
)

// acmPenaltySeconds is the penalty added per wrong attempt before the
// first accepted submission, ACM rule only.
const acmPenaltySeconds = 20 * 60

// Submission is the judged outcome the engine consumes. It carries only
// the fields scoring needs, already resolved by the caller.
type Submission struct {
	ID          int64
	ProblemID   int64
	Accepted    bool
	Score       int
	SubmittedAt time.Time
}

// Apply folds one judged submission into the entry under the given rule
// and reports whether the entry changed. MaxScore is the effective
// ceiling for the problem in this contest; contestStart anchors ACM
// penalty time.
func Apply(rule model.Rule, entry *model.RankingEntry, sub Submission, maxScore int, contestStart time.Time) bool {
	switch rule {
	case model.RuleIOI:
		return applyIOI(entry, sub, maxScore)
	case model.RuleOI:
		return applyOI(entry, sub, maxScore)
	default:
		return applyACM(entry, sub, contestStart)
	}
}

// applyACM: first accepted submission freezes the problem. Wrong attempts
// before it cost 20 minutes each; anything after the solve is ignored.
func applyACM(entry *model.RankingEntry, sub Submission, contestStart time.Time) bool {
	pr := entry.Problem(sub.ProblemID)
	if pr.Status == model.ProblemSolved {
		return false
	}

	if !sub.Accepted {
		pr.Status = model.ProblemPartial
		pr.WrongAttempts++
		pr.LastSubmissionID = sub.ID
		return true
	}

	acceptedAt := int64(sub.SubmittedAt.Sub(contestStart) / time.Second)
	if acceptedAt < 0 {
		acceptedAt = 0
	}
	pr.Status = model.ProblemSolved
	pr.Score = sub.Score
	pr.AcceptedAt = acceptedAt
	pr.LastSubmissionID = sub.ID
	entry.Solved++
	entry.Penalty += acceptedAt + int64(pr.WrongAttempts)*acmPenaltySeconds
	return true
}

// applyIOI: the per-problem score only ever goes up. An accepted run is
// worth the full max score regardless of the judged score.
func applyIOI(entry *model.RankingEntry, sub Submission, maxScore int) bool {
	pr := entry.Problem(sub.ProblemID)

	current := sub.Score
	if sub.Accepted {
		current = maxScore
	}

	changed := false
	if current > pr.Score {
		entry.TotalScore += current - pr.Score
		pr.Score = current
		changed = true
	}
	if (sub.Accepted || pr.Score >= maxScore) && pr.Status != model.ProblemSolved {
		pr.Status = model.ProblemSolved
		entry.Solved++
		changed = true
	}
	if !sub.Accepted {
		if pr.Status != model.ProblemSolved {
			if pr.Score > 0 {
				pr.Status = model.ProblemPartial
			} else {
				pr.Status = model.ProblemUntouched
			}
		}
		pr.WrongAttempts++
		changed = true
	}
	if changed {
		pr.LastSubmissionID = sub.ID
	}
	return changed
}

// applyOI: the latest submission overwrites the problem outright, so a
// worse run lowers the total.
func applyOI(entry *model.RankingEntry, sub Submission, maxScore int) bool {
	pr := entry.Problem(sub.ProblemID)

	current := sub.Score
	if sub.Accepted {
		current = maxScore
	}

	entry.TotalScore += current - pr.Score
	pr.Score = current

	wasSolved := pr.Status == model.ProblemSolved
	if sub.Accepted {
		pr.Status = model.ProblemSolved
		if !wasSolved {
			entry.Solved++
		}
	} else {
		if current > 0 {
			pr.Status = model.ProblemPartial
		} else {
			pr.Status = model.ProblemUntouched
		}
		if wasSolved {
			entry.Solved--
		}
		pr.WrongAttempts++
	}
	pr.LastSubmissionID = sub.ID
	return true
}

// BoardScore maps an entry to its sorted-set score so the leaderboard
// can be read straight out of redis. Higher is better for every rule.
func BoardScore(rule model.Rule, entry *model.RankingEntry) float64 {
	if rule == model.RuleACM {
		// Solved count dominates; penalty breaks ties within a count.
		return float64(entry.Solved)*1e9 - float64(entry.Penalty)
	}
	return float64(entry.TotalScore)
}
