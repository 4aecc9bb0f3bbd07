package sandboxproc

import (
	"encoding/json"
	"io"

	"github.com/cryguy/fledge-auction/internal/core"
)

// Sandboxee serves one connection's worth of {Compile, BatchExecute, Exit}
// requests against a single backend. It hosts exactly one compiled
// function for its lifetime: a second Compile is rejected with
// failed-precondition rather than silently replacing the first, matching
// the one-function-per-sandboxee-process contract the original SAPI
// adapter enforces by construction (a fresh OS process per function).
type Sandboxee struct {
	backend core.EngineBackend
	state   *stateMachine
	fn      core.CompiledFunction
}

// NewSandboxee returns a Sandboxee that compiles against backend.
func NewSandboxee(backend core.EngineBackend) *Sandboxee {
	return &Sandboxee{backend: backend, state: newStateMachine()}
}

// State reports the sandboxee's current lifecycle state, for tests and
// diagnostics.
func (s *Sandboxee) State() State { return s.state.current() }

// Serve reads requests off rw until OpExit, a transport error, or EOF,
// writing one response frame per request. It returns nil on a clean OpExit
// or EOF, and the first unexpected transport error otherwise.
func (s *Sandboxee) Serve(rw io.ReadWriter) error {
	for {
		op, payload, err := readFrame(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch Op(op) {
		case OpExit:
			if s.fn != nil {
				s.fn.Close()
			}
			return nil
		case OpCompile:
			out, handleErr := s.handleCompile(payload)
			if err := writeResponse(rw, out, handleErr); err != nil {
				return err
			}
		case OpBatchExecute:
			out, handleErr := s.handleBatchExecute(payload)
			if err := writeResponse(rw, out, handleErr); err != nil {
				return err
			}
		default:
			if err := writeResponse(rw, nil, core.Errorf(core.KindFailedPrecondition, "sandboxproc: unknown op %d", op)); err != nil {
				return err
			}
		}
	}
}

// handleCompile implements the Compile op: legal only from Empty.
func (s *Sandboxee) handleCompile(payload []byte) ([]byte, error) {
	if _, ok := s.state.beginCompile(); !ok {
		return nil, core.Errorf(core.KindFailedPrecondition, "sandboxproc: compile requested while sandboxee is %s; this sandboxee already hosts a compiled function", s.state.current())
	}

	var req compileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.state.finishCompile(false)
		return nil, core.Errorf(core.KindInvalidArgument, "sandboxproc: decoding compile request: %v", err)
	}

	fn, err := s.backend.Compile(req.Source, req.Role, req.Opts)
	if err != nil {
		s.state.finishCompile(false)
		return nil, err
	}

	s.fn = fn
	s.state.finishCompile(true)
	return nil, nil
}

// handleBatchExecute implements the BatchExecute op: legal only from Ready.
// Inputs are invoked sequentially; the first failure short-circuits the
// batch and returns with no partial outputs, per spec §4.B.
func (s *Sandboxee) handleBatchExecute(payload []byte) ([]byte, error) {
	if _, ok := s.state.beginExecute(); !ok {
		return nil, core.Errorf(core.KindFailedPrecondition, "sandboxproc: batch_execute requested while sandboxee is %s; compile a function first", s.state.current())
	}
	defer s.state.finishExecute()

	var req batchExecuteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, core.Errorf(core.KindInvalidArgument, "sandboxproc: decoding batch_execute request: %v", err)
	}

	outputs := make([]json.RawMessage, 0, len(req.Inputs))
	for _, args := range req.Inputs {
		out, err := s.fn.Invoke(args)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	return json.Marshal(batchExecuteResponse{Outputs: outputs})
}
