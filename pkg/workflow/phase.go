package workflow

import "agentdesk/pkg/session"

// Phase is a state of a team run. Runs move strictly forward through
// Plan, Draft, Critique, Revise and Finalize and end in Done, Asked or
// Failed.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseDraft    Phase = "draft"
	PhaseCritique Phase = "critique"
	PhaseRevise   Phase = "revise"
	PhaseFinalize Phase = "finalize"

	PhaseDone   Phase = "done"
	PhaseAsked  Phase = "asked"
	PhaseFailed Phase = "failed"
)

// Terminal reports whether the run has ended.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAsked || p == PhaseFailed
}

// Status is the session status shown while the phase runs.
func (p Phase) Status() session.Status {
	switch p {
	case PhasePlan:
		return session.StatusPlanning
	case PhaseDraft, PhaseRevise:
		return session.StatusWorking
	case PhaseCritique:
		return session.StatusReviewing
	case PhaseFinalize:
		return session.StatusFinalizing
	default:
		return session.StatusIdle
	}
}

func (p Phase) String() string {
	return string(p)
}
