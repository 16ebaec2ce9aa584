package model

import (
	"encoding/json"
	"fmt"
)

// Problem is the judge-side view of a problem: test data and limits.
// The judge_case and judge_config columns hold JSON; decoding happens
// once at the repository boundary so the rest of the pipeline works
// with typed values.
type Problem struct {
	ID       int64
	Title    string
	MaxScore int
	Cases    []JudgeCase
	Config   JudgeConfig
}

// JudgeCase is one input/expected-output pair.
type JudgeCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// JudgeConfig holds the resource limits for running a problem.
type JudgeConfig struct {
	TimeLimitMs   int64 `json:"timeLimit"`
	MemoryLimitKB int64 `json:"memoryLimit"`
	OutputLimitKB int64 `json:"outputLimit,omitempty"`
}

const (
	DefaultTimeLimitMs   = 1000
	DefaultMemoryLimitKB = 256 * 1024
	DefaultOutputLimitKB = 1024
	DefaultMaxScore      = 100
)

// Normalize fills zero limits with defaults.
func (c *JudgeConfig) Normalize() {
	if c.TimeLimitMs <= 0 {
		c.TimeLimitMs = DefaultTimeLimitMs
	}
	if c.MemoryLimitKB <= 0 {
		c.MemoryLimitKB = DefaultMemoryLimitKB
	}
	if c.OutputLimitKB <= 0 {
		c.OutputLimitKB = DefaultOutputLimitKB
	}
}

// DecodeJudgeCases parses the judge_case JSON column.
func DecodeJudgeCases(raw string) ([]JudgeCase, error) {
	if raw == "" {
		return nil, fmt.Errorf("judge cases are empty")
	}
	var cases []JudgeCase
	if err := json.Unmarshal([]byte(raw), &cases); err != nil {
		return nil, fmt.Errorf("decode judge cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("judge cases are empty")
	}
	return cases, nil
}

// DecodeJudgeConfig parses the judge_config JSON column and applies defaults.
func DecodeJudgeConfig(raw string) (JudgeConfig, error) {
	var cfg JudgeConfig
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return cfg, fmt.Errorf("decode judge config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}
