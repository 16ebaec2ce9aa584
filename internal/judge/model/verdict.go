package model

// Verdict represents the final outcome of judging a submission.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictOLE Verdict = "OLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictSE  Verdict = "SE"
)

// Terminal reports whether the verdict counts as a judged outcome.
// SE means the judge itself failed and the submission may be re-run.
func (v Verdict) Terminal() bool {
	return v != "" && v != VerdictSE
}
