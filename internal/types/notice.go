package types

// NoticeStage discriminates completion notices. Providers report progress
// in their own vocabulary; the per-provider parsers map it onto these.
type NoticeStage string

const (
	// StageTextReady and StageFirstCandidate are intermediate: the task
	// stays pending and nothing is delivered.
	StageTextReady      NoticeStage = "text-ready"
	StageFirstCandidate NoticeStage = "first-candidate-ready"

	// StageComplete and StageFailed are terminal.
	StageComplete NoticeStage = "complete"
	StageFailed   NoticeStage = "failed"
)

// Terminal reports whether the stage closes out the task.
func (s NoticeStage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Notice is a canonical completion notice, normalized from a provider
// webhook body or poll answer. Candidates keep the provider's own
// ordering; the first one is the delivered result.
type Notice struct {
	SubmissionID string
	Stage        NoticeStage
	Candidates   []GenResult
	Err          string // provider-reported failure detail for StageFailed
}
