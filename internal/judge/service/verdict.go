package service

import (
	"math"
	"strings"

	"github.com/nageing/nano-oj-backend/internal/judge/model"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
)

// classification is the judged outcome of one sandbox run against the
// problem's expected outputs.
type classification struct {
	Verdict model.Verdict
	Score   int
	Detail  *model.JudgeDetail
}

// classify maps raw case results to a verdict, in fixed precedence:
// runtime error, time limit, memory limit, output limit, case count
// mismatch, then token comparison. The first category present anywhere
// in the run decides the verdict; per-case verdicts are kept in the
// detail regardless. Partial credit exists only for wrong answers.
func classify(resp *sandbox.ExecuteResponse, cases []model.JudgeCase, config model.JudgeConfig, maxScore int) classification {
	detail := &model.JudgeDetail{
		TotalCases: len(cases),
	}

	var (
		hasRE, hasTLE, hasMLE, hasOLE bool
		passed                        int
		firstFailed                   int
	)
	for i, result := range resp.Cases {
		cv := caseVerdict(result, config)
		if cv == model.VerdictWA && i < len(cases) && tokensEqual(result.Stdout, cases[i].Output) {
			cv = model.VerdictAC
		}
		switch cv {
		case model.VerdictRE:
			hasRE = true
		case model.VerdictTLE:
			hasTLE = true
		case model.VerdictMLE:
			hasMLE = true
		case model.VerdictOLE:
			hasOLE = true
		case model.VerdictAC:
			passed++
		}
		if cv != model.VerdictAC && firstFailed == 0 {
			firstFailed = i + 1
		}
		if result.TimeMs > detail.MaxTimeMs {
			detail.MaxTimeMs = result.TimeMs
		}
		if result.MemoryKB > detail.MaxMemoryKB {
			detail.MaxMemoryKB = result.MemoryKB
		}
		detail.Cases = append(detail.Cases, model.CaseDetail{
			Index:    i + 1,
			Verdict:  cv,
			TimeMs:   result.TimeMs,
			MemoryKB: result.MemoryKB,
		})
	}
	detail.PassedCases = passed
	detail.FirstFailed = firstFailed

	verdict := model.VerdictAC
	switch {
	case hasRE:
		verdict = model.VerdictRE
		detail.Message = "runtime error"
	case hasTLE:
		verdict = model.VerdictTLE
		detail.Message = "time limit exceeded"
	case hasMLE:
		verdict = model.VerdictMLE
		detail.Message = "memory limit exceeded"
	case hasOLE:
		verdict = model.VerdictOLE
		detail.Message = "output limit exceeded"
	case len(resp.Cases) != len(cases):
		verdict = model.VerdictWA
		detail.Message = "case count mismatch"
	case passed < len(cases):
		verdict = model.VerdictWA
	}

	// Only accepted and wrong-answer runs score. A run that crashed or
	// blew a limit gets zero even when earlier cases passed.
	score := 0
	switch verdict {
	case model.VerdictAC:
		score = maxScore
	case model.VerdictWA:
		score = caseScore(passed, len(cases), maxScore)
	}
	return classification{Verdict: verdict, Score: score, Detail: detail}
}

// caseVerdict classifies a single case without looking at the expected
// output. A case killed by the runtime is a limit verdict, not a
// runtime error, even though its exit status is non-zero.
func caseVerdict(result sandbox.CaseResult, config model.JudgeConfig) model.Verdict {
	switch {
	case result.TimedOut || result.TimeMs > config.TimeLimitMs:
		return model.VerdictTLE
	case result.OomKilled || result.MemoryKB > config.MemoryLimitKB:
		return model.VerdictMLE
	case result.ExitCode != 0:
		return model.VerdictRE
	case result.Truncated:
		return model.VerdictOLE
	default:
		return model.VerdictWA
	}
}

// caseScore is the partial score for a run that passed some of the cases.
func caseScore(passed, total, maxScore int) int {
	if total <= 0 || passed <= 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * float64(maxScore)))
}

// tokensEqual compares outputs as whitespace-delimited token sequences,
// so trailing newlines and spacing differences never flip a verdict.
func tokensEqual(got, want string) bool {
	gotTokens := strings.Fields(got)
	wantTokens := strings.Fields(want)
	if len(gotTokens) != len(wantTokens) {
		return false
	}
	for i := range gotTokens {
		if gotTokens[i] != wantTokens[i] {
			return false
		}
	}
	return true
}
