package sandbox

import "context"

// Fake is a deterministic in-process Executor for tests and local
// development. By default it echoes each input back as stdout, so a
// problem whose expected output equals its input judges as accepted.
type Fake struct {
	// CompileLog marks the submission as a compile failure when set.
	CompileLog string

	// Err is returned from Execute as a system failure when set.
	Err error

	// Respond overrides the per-case behavior when set.
	Respond func(index int, input string) CaseResult
}

// Execute produces scripted results without running anything.
func (f *Fake) Execute(_ context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.CompileLog != "" {
		return &ExecuteResponse{Compile: CompileResult{OK: false, Log: f.CompileLog}}, nil
	}

	resp := &ExecuteResponse{Compile: CompileResult{OK: true}}
	for i, input := range req.Inputs {
		if f.Respond != nil {
			resp.Cases = append(resp.Cases, f.Respond(i, input))
			continue
		}
		resp.Cases = append(resp.Cases, CaseResult{
			Stdout:   input,
			TimeMs:   1,
			MemoryKB: 1024,
		})
	}
	return resp, nil
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }

var _ Executor = (*Fake)(nil)
