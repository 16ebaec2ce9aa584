package model

import "time"

// SubmissionStatus is the lifecycle state of a submission.
// Pending -> Judging -> Judged | SystemError. Each transition happens
// exactly once; the repository enforces this with guarded updates.
type SubmissionStatus int

const (
	StatusPending SubmissionStatus = iota
	StatusJudging
	StatusJudged
	StatusSystemError
)

// String returns the API representation of the status.
func (s SubmissionStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusJudging:
		return "Judging"
	case StatusJudged:
		return "Judged"
	case StatusSystemError:
		return "SystemError"
	default:
		return "Unknown"
	}
}

// Submission is a single code submission row.
type Submission struct {
	ID         int64
	UserID     int64
	ProblemID  int64
	ContestID  int64 // 0 for practice submissions
	Language   string
	SourceCode string
	Status     SubmissionStatus
	Verdict    Verdict // empty until judged
	Score      int
	Detail     *JudgeDetail // nil until judged
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InContest reports whether the submission belongs to a contest.
func (s *Submission) InContest() bool {
	return s.ContestID != 0
}

// JudgeDetail is the per-submission judge report stored as a JSON column.
type JudgeDetail struct {
	Message     string       `json:"message"`
	PassedCases int          `json:"passed_cases"`
	TotalCases  int          `json:"total_cases"`
	FirstFailed int          `json:"first_failed"` // 1-based, 0 when all passed
	MaxTimeMs   int64        `json:"max_time_ms"`
	MaxMemoryKB int64        `json:"max_memory_kb"`
	CompileLog  string       `json:"compile_log,omitempty"`
	Cases       []CaseDetail `json:"cases,omitempty"`
}

// CaseDetail records the outcome of one test case.
type CaseDetail struct {
	Index    int     `json:"index"` // 1-based
	Verdict  Verdict `json:"verdict"`
	TimeMs   int64   `json:"time_ms"`
	MemoryKB int64   `json:"memory_kb"`
}
