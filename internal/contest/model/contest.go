package model

import "time"

// Rule selects the scoring discipline of a contest.
type Rule int

const (
	RuleACM Rule = 0
	RuleIOI Rule = 1
	RuleOI  Rule = 2
)

// String returns the API representation of the rule.
func (r Rule) String() string {
	switch r {
	case RuleACM:
		return "ACM"
	case RuleIOI:
		return "IOI"
	case RuleOI:
		return "OI"
	default:
		return "Unknown"
	}
}

// Contest is a scored competition with a fixed time window.
type Contest struct {
	ID        int64
	Title     string
	Rule      Rule
	StartTime time.Time
	EndTime   time.Time
}

// Running reports whether now falls inside the contest window.
func (c *Contest) Running(now time.Time) bool {
	return !now.Before(c.StartTime) && now.Before(c.EndTime)
}

// ContestProblem attaches a problem to a contest, optionally overriding
// the problem's max score for this contest.
type ContestProblem struct {
	ContestID int64
	ProblemID int64
	DisplayID string // label shown to participants, e.g. "A"
	MaxScore  int    // 0 means use the problem's own max score
}
