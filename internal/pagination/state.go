package pagination

import "dripbot/internal/models"

// Phase of a walkthrough
type Phase int

const (
	NotStarted Phase = iota
	Active
	Completed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// State is a walkthrough position. Index is meaningful only when Active.
type State struct {
	Phase Phase
	Index int
}

// StateOf reads the state of a persisted session; nil is NotStarted
func StateOf(session *models.UserSession) State {
	switch {
	case session == nil:
		return State{Phase: NotStarted}
	case session.IsCompleted:
		return State{Phase: Completed}
	default:
		return State{Phase: Active, Index: session.CurrentIndex}
	}
}

// Step is what a transition asks the engine to do, in order:
// show the ad, move to Next.Index, deliver it (with a control for Index+1), finish.
type Step struct {
	Next State

	ShowAd  bool
	AdIndex int

	Deliver     bool
	WithControl bool

	// Finish completes the session and sends the end message
	Finish bool
}

// Noop reports whether the transition does nothing
func (s Step) Noop() bool {
	return !s.ShowAd && !s.Deliver && !s.Finish
}

// Enter is the NotStarted -> Active(0) transition.
// A one item walkthrough is delivered without a control and finished immediately.
func Enter(total int) Step {
	if total <= 0 {
		return Step{Next: State{Phase: NotStarted}}
	}
	if total == 1 {
		return Step{Next: State{Phase: Completed}, Deliver: true, Finish: true}
	}
	return Step{Next: State{Phase: Active, Index: 0}, Deliver: true, WithControl: true}
}

// Advance is the transition for a request to move to index requested.
// Completed sessions and replays of an already passed index are no-ops.
func Advance(cur State, requested, total, adCount int) Step {
	if cur.Phase != Active || requested <= cur.Index {
		return Step{Next: cur}
	}
	if requested >= total {
		return Step{Next: State{Phase: Completed}, Finish: true}
	}

	step := Step{Deliver: true}
	if adCount > 0 {
		step.ShowAd = true
		step.AdIndex = AdIndex(requested, adCount)
	}
	if requested == total-1 {
		step.Next = State{Phase: Completed}
		step.Finish = true
	} else {
		step.Next = State{Phase: Active, Index: requested}
		step.WithControl = true
	}
	return step
}

// AdIndex picks the ad shown before content index requested
func AdIndex(requested, adCount int) int {
	if adCount <= 0 || requested < 1 {
		return 0
	}
	return (requested - 1) % adCount
}
