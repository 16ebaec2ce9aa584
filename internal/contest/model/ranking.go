package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProblemStatus is the per-problem state inside a ranking entry.
type ProblemStatus int

const (
	ProblemUntouched ProblemStatus = 0
	ProblemSolved    ProblemStatus = 1
	ProblemPartial   ProblemStatus = 2
)

// ProblemResult records one participant's standing on one problem.
// LastSubmissionID is the id of the submission most recently folded in;
// the aggregator uses it to drop redelivered completion events.
type ProblemResult struct {
	Status           ProblemStatus `json:"status"`
	Score            int           `json:"score"`
	AcceptedAt       int64         `json:"accepted_at"` // seconds since contest start
	WrongAttempts    int           `json:"wrong_attempts"`
	LastSubmissionID int64         `json:"last_submission_id"`
}

// RankingEntry is one participant's row in a contest ranking.
// Problems is stored as a JSON column keyed by problem id.
type RankingEntry struct {
	ID         int64
	ContestID  int64
	UserID     int64
	UserName   string
	UserAvatar string
	Solved     int
	Penalty    int64 // seconds, ACM only
	TotalScore int
	Problems   map[int64]*ProblemResult
	UpdatedAt  time.Time
}

// NewRankingEntry returns a zeroed entry for a participant.
func NewRankingEntry(contestID, userID int64) *RankingEntry {
	return &RankingEntry{
		ContestID: contestID,
		UserID:    userID,
		Problems:  make(map[int64]*ProblemResult),
	}
}

// Problem returns the result for a problem, creating it if absent.
func (e *RankingEntry) Problem(problemID int64) *ProblemResult {
	if e.Problems == nil {
		e.Problems = make(map[int64]*ProblemResult)
	}
	if r, ok := e.Problems[problemID]; ok {
		return r
	}
	r := &ProblemResult{}
	e.Problems[problemID] = r
	return r
}

// EncodeProblems serializes the problem map for the JSON column.
func (e *RankingEntry) EncodeProblems() (string, error) {
	if e.Problems == nil {
		return "{}", nil
	}
	data, err := json.Marshal(e.Problems)
	if err != nil {
		return "", fmt.Errorf("encode ranking problems: %w", err)
	}
	return string(data), nil
}

// DecodeProblems parses the JSON column into the typed problem map.
func DecodeProblems(raw string) (map[int64]*ProblemResult, error) {
	problems := make(map[int64]*ProblemResult)
	if raw == "" || raw == "{}" {
		return problems, nil
	}
	if err := json.Unmarshal([]byte(raw), &problems); err != nil {
		return nil, fmt.Errorf("decode ranking problems: %w", err)
	}
	return problems, nil
}
