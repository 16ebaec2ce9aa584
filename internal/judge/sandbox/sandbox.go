// Package sandbox runs untrusted submission code under resource limits.
package sandbox

import "context"

// ExecuteRequest describes one submission to compile and run.
type ExecuteRequest struct {
	SubmissionID  int64
	Language      string
	SourceCode    string
	Inputs        []string // stdin per test case, zero-length inputs are valid
	TimeLimitMs   int64
	MemoryLimitKB int64
	OutputLimitKB int64
}

// CompileResult is the outcome of the compile phase.
type CompileResult struct {
	OK     bool
	TimeMs int64
	Log    string // compiler output, capped
}

// CaseResult captures raw execution data for one test case.
// Verdict classification happens in the judge service, not here.
type CaseResult struct {
	Stdout    string
	Stderr    string // capped, used for runtime OOM detection
	ExitCode  int
	TimeMs    int64
	MemoryKB  int64
	OomKilled bool
	TimedOut  bool
	Truncated bool // stdout exceeded the output limit
}

// ExecuteResponse is the full result of executing a request.
// When Compile.OK is false, Cases is empty.
type ExecuteResponse struct {
	Compile CompileResult
	Cases   []CaseResult
}

// Executor compiles and runs submissions in isolation.
// Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
	Close() error
}
