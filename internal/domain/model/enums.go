package model

// CommitState represents the processing state of a Commit's coverage upload.
type CommitState string

const (
	CommitStatePending  CommitState = "pending"
	CommitStateComplete CommitState = "complete"
	CommitStateError    CommitState = "error"
	CommitStateSkipped  CommitState = "skipped"
)

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Re-applying the current state is allowed so upserts stay idempotent.
func (s CommitState) CanAdvanceTo(next CommitState) bool {
	if s == next {
		return true
	}
	return s == CommitStatePending || s == ""
}

// PullState represents the lifecycle state of a pull request.
type PullState string

const (
	PullStateOpen   PullState = "open"
	PullStateClosed PullState = "closed"
	PullStateMerged PullState = "merged"
)

// CIState is the state an external CI system reported for a commit.
type CIState string

const (
	CIStatePending CIState = "pending"
	CIStateSuccess CIState = "success"
	CIStateFailure CIState = "failure"
	CIStateError   CIState = "error"
)

// NormalizeCIState maps provider-specific status words onto CIState.
func NormalizeCIState(raw string) CIState {
	switch raw {
	case "success", "SUCCESSFUL", "passed", "success_with_warnings":
		return CIStateSuccess
	case "failure", "FAILED", "failed", "canceled", "STOPPED":
		return CIStateFailure
	case "error":
		return CIStateError
	default:
		return CIStatePending
	}
}
