package engine

import "sync/atomic"

// State is a step of the attempt lifecycle.
type State int32

const (
	StateLoading State = iota
	StateInProgress
	StateSubmitting
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateInProgress:
		return "in_progress"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Lifecycle is the attempt state machine: Loading -> InProgress -> Submitting -> Submitted.
// Every transition is a compare-and-swap so concurrent callers race on a single word.
type Lifecycle struct {
	state atomic.Int32
}

// NewLifecycle returns a lifecycle in the Loading state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Begin moves Loading -> InProgress.
func (l *Lifecycle) Begin() bool {
	return l.cas(StateLoading, StateInProgress)
}

// Claim moves InProgress -> Submitting. Exactly one concurrent caller wins.
func (l *Lifecycle) Claim() bool {
	return l.cas(StateInProgress, StateSubmitting)
}

// Complete moves Submitting -> Submitted after the attempt write succeeded.
func (l *Lifecycle) Complete() bool {
	return l.cas(StateSubmitting, StateSubmitted)
}

// Release moves Submitting -> InProgress after a failed write so the submission can be retried.
func (l *Lifecycle) Release() bool {
	return l.cas(StateSubmitting, StateInProgress)
}

func (l *Lifecycle) cas(from, to State) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}
