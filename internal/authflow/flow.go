package authflow

import (
	"context"
	"errors"
	"sync"
)

// State of a credential-acquisition flow. Ended and Canceled are
// terminal; a new Start builds a fresh flow with no carried-over state.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "inProgress"
	StateEnded      State = "ended"
	StateCanceled   State = "canceled"
)

// Step is an intermediate value emitted to the caller: a prompt the user
// must answer before the flow can advance.
type Step struct {
	Prompt  string `json:"prompt"`
	Message string `json:"message,omitempty"`
	Attempt int    `json:"attempt"`
}

type Notifier interface {
	Broadcast(event string, body interface{})
}

// Validator checks a candidate credential. A non-nil error re-prompts;
// nil ends the flow with the credential as its result.
type Validator func(ctx context.Context, input string) error

var ErrCanceled = errors.New("authflow canceled")

const stateEvent = "authflow/state"

// Flow drives one multi-round credential acquisition. Exactly one step
// is outstanding at a time: the flow suspends after emitting a Step and
// resumes when the caller resolves it. Cancel is accepted at every
// suspension point and transitions straight to canceled, discarding the
// pending step.
type Flow struct {
	mu     sync.Mutex
	state  State
	result string

	steps    chan Step
	inputs   chan string
	cancelCh chan struct{}
	done     chan struct{}

	cancelOnce sync.Once
	notify     Notifier
}

// Start begins a flow that prompts until validate accepts an input or
// the user dismisses the prompt (empty input) or cancels.
func Start(ctx context.Context, notify Notifier, prompt string, validate Validator) *Flow {
	f := &Flow{
		state:    StateIdle,
		steps:    make(chan Step),
		inputs:   make(chan string),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		notify:   notify,
	}
	go f.run(ctx, prompt, validate)
	return f
}

// Steps yields each pending prompt. The channel closes when the flow
// reaches a terminal state.
func (f *Flow) Steps() <-chan Step {
	return f.steps
}

// Resolve supplies the answer to the outstanding step.
func (f *Flow) Resolve(input string) error {
	select {
	case f.inputs <- input:
		return nil
	case <-f.done:
		return ErrCanceled
	}
}

// Cancel aborts the flow from any in-progress point.
func (f *Flow) Cancel() {
	f.cancelOnce.Do(func() { close(f.cancelCh) })
}

// Done closes once the flow is terminal.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Result returns the terminal state and, when ended, the acquired
// credential.
func (f *Flow) Result() (State, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.result
}

func (f *Flow) run(ctx context.Context, prompt string, validate Validator) {
	defer close(f.done)
	defer close(f.steps)

	f.transition(StateInProgress)

	message := ""
	for attempt := 1; ; attempt++ {
		step := Step{Prompt: prompt, Message: message, Attempt: attempt}

		select {
		case f.steps <- step:
		case <-f.cancelCh:
			f.transition(StateCanceled)
			return
		case <-ctx.Done():
			f.transition(StateCanceled)
			return
		}

		var input string
		select {
		case input = <-f.inputs:
		case <-f.cancelCh:
			f.transition(StateCanceled)
			return
		case <-ctx.Done():
			f.transition(StateCanceled)
			return
		}

		// An empty answer is a dismissal, same terminal state as an
		// explicit cancel.
		if input == "" {
			f.transition(StateCanceled)
			return
		}

		if err := validate(ctx, input); err != nil {
			message = err.Error()
			continue
		}

		f.mu.Lock()
		f.result = input
		f.mu.Unlock()
		f.transition(StateEnded)
		return
	}
}

// transition records the new state and broadcasts it. The broadcast is
// observability only; its failure cannot abort the flow.
func (f *Flow) transition(s State) {
	f.mu.Lock()
	f.state = s
	notify := f.notify
	f.mu.Unlock()

	if notify != nil {
		notify.Broadcast(stateEvent, map[string]State{"state": s})
	}
}
