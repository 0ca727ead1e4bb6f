package patch

// Status is the outcome of one spec
type Status string

const (
	StatusApplied            Status = "applied"
	StatusAlreadyApplied     Status = "already-applied"
	StatusAnchorNotFound     Status = "anchor-not-found"
	StatusAmbiguousMatch     Status = "ambiguous-match"
	StatusFailedVerification Status = "failed-verification"
	StatusFailed             Status = "failed"
	StatusUnresolved         Status = "unresolved"
	StatusBlocked            Status = "blocked"
)

// Succeeded reports whether the spec is in effect on the artifact
func (s Status) Succeeded() bool {
	return s == StatusApplied || s == StatusAlreadyApplied
}

// State is the final state of an artifact after a session
type State string

const (
	StateUnchanged  State = "unchanged"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled-back"
)
