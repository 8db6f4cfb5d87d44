package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rulewire/rulewire/pkg/schema"
)

// State is a stage of one pipeline invocation.
type State string

const (
	StatePending       State = "pending"
	StateFetching      State = "fetching"
	StatePreprocessing State = "preprocessing"
	StateValidating    State = "validating"
	StateCalling       State = "calling"
	StateMapping       State = "mapping"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// ValidTransitions defines the allowed state transitions for an invocation.
// The happy path is strictly sequential; every non-terminal state may fail.
var ValidTransitions = map[State][]State{
	StatePending:       {StateFetching, StateFailed},
	StateFetching:      {StatePreprocessing, StateFailed},
	StatePreprocessing: {StateValidating, StateFailed},
	StateValidating:    {StateCalling, StateFailed},
	StateCalling:       {StateMapping, StateFailed},
	StateMapping:       {StateDone, StateFailed},
	StateDone:          {},
	StateFailed:        {},
}

// TransitionHook is called after a successful state transition.
type TransitionHook func(from, to State)

// FSM tracks the lifecycle of a single invocation. Invocations are
// ephemeral, so transitions are logged rather than persisted.
type FSM struct {
	mu     sync.Mutex
	state  State
	hooks  []TransitionHook
	logger *slog.Logger
}

// NewFSM creates an FSM in the pending state.
func NewFSM(logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{state: StatePending, logger: logger}
}

// OnTransition registers a hook called after every successful transition.
func (f *FSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition validates and executes a state transition.
func (f *FSM) Transition(ctx context.Context, to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid invocation transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	f.state = to
	f.logger.DebugContext(ctx, "invocation state changed",
		slog.String("from", string(from)), slog.String("to", string(to)))

	for _, hook := range f.hooks {
		hook(from, to)
	}
	return nil
}

func isValidTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state is final.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}
