// Package sandboxproc implements the length-prefixed request/response
// framing and single-function state machine the OS-level process sandbox
// described by spec §4.B/§6 would run behind: one sandboxee process hosts
// exactly one compiled function for its entire lifetime, reachable over any
// io.ReadWriter (a net.Conn in production, an in-memory pipe in tests).
package sandboxproc

import "sync/atomic"

// State is one of the sandboxee's four lifecycle states. Compile is legal
// only from Empty; BatchExecute only from Ready.
type State int32

const (
	// StateEmpty is the sandboxee's initial state: no function compiled yet.
	StateEmpty State = iota
	// StateCompiling is entered for the duration of a Compile request.
	StateCompiling
	// StateReady means a function is compiled and BatchExecute is legal.
	StateReady
	// StateExecuting is entered for the duration of a BatchExecute request.
	StateExecuting
)

// String names a State for logging and error messages.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateCompiling:
		return "Compiling"
	case StateReady:
		return "Ready"
	case StateExecuting:
		return "Executing"
	default:
		return "Unknown"
	}
}

// stateMachine guards the sandboxee's single compiled function against the
// two illegal transitions the spec calls out: a second Compile, and a
// BatchExecute before the first Compile completes. It is not meant to guard
// against concurrent requests — the sandboxee protocol is strictly
// request/response over a single connection, one in flight at a time.
type stateMachine struct {
	state atomic.Int32
}

func newStateMachine() *stateMachine {
	return &stateMachine{}
}

func (m *stateMachine) current() State {
	return State(m.state.Load())
}

// beginCompile transitions Empty -> Compiling, or reports that a function
// is already compiled/compiling.
func (m *stateMachine) beginCompile() (State, bool) {
	if m.state.CompareAndSwap(int32(StateEmpty), int32(StateCompiling)) {
		return StateCompiling, true
	}
	return m.current(), false
}

// finishCompile transitions Compiling -> Ready (ok) or Compiling -> Empty
// (compile failed; beginCompile accepts a retry from Empty, and only a
// successful compile makes the sandboxee single-shot).
func (m *stateMachine) finishCompile(ok bool) {
	if ok {
		m.state.Store(int32(StateReady))
	} else {
		m.state.Store(int32(StateEmpty))
	}
}

// beginExecute transitions Ready -> Executing, or reports the sandboxee
// isn't ready yet.
func (m *stateMachine) beginExecute() (State, bool) {
	if m.state.CompareAndSwap(int32(StateReady), int32(StateExecuting)) {
		return StateExecuting, true
	}
	return m.current(), false
}

// finishExecute transitions Executing back to Ready; a function remains
// invocable for the sandboxee's whole lifetime once compiled.
func (m *stateMachine) finishExecute() {
	m.state.Store(int32(StateReady))
}
