package model

import "time"

// Topic names for the judge pipeline.
const (
	TopicJudgeTask     = "judge.task"
	TopicJudgeFinished = "judge.finished"
)

// JudgeTask is the payload published by the intake when a submission is created.
type JudgeTask struct {
	SubmissionID int64 `json:"submission_id"`
}

// JudgeFinishedEvent is published after a contest submission reaches a
// terminal state, and drives the ranking aggregator.
type JudgeFinishedEvent struct {
	SubmissionID int64     `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	ContestID    int64     `json:"contest_id"`
	Verdict      Verdict   `json:"verdict"`
	Score        int       `json:"score"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
