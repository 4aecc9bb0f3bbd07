//go:build !v8

package quickjs

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cryguy/fledge-auction/internal/core"
	"modernc.org/quickjs"
)

// internalFnGlobal is the fixed global name the resolved export is installed
// under so later invocations never re-run the export-resolution search.
const internalFnGlobal = "__fledge_fn__"

// consoleSetupJS gives a sandboxed script a console object; output is
// discarded rather than surfaced, matching the spec's "no logging pipeline"
// scope — only a script that calls console.* and expects it not to throw.
const consoleSetupJS = `
(function() {
	var noop = function() {};
	globalThis.console = { log: noop, info: noop, warn: noop, error: noop, debug: noop };
})();
`

// Engine implements core.EngineBackend using QuickJS VMs.
type Engine struct{}

// NewEngine returns a QuickJS-backed EngineBackend.
func NewEngine() *Engine { return &Engine{} }

var _ core.EngineBackend = (*Engine)(nil)

// Compile instantiates a fresh VM, compiles source, resolves the exported
// function per role, warms it up, and returns a CompiledFunction that
// rebuilds a disposable VM from the validated (source, role) pair on every
// Invoke — so no per-request JS state ever survives between calls.
func (e *Engine) Compile(source string, role core.FunctionRole, opts core.CompileOptions) (core.CompiledFunction, error) {
	vm, err := newVM(opts.MemoryLimitMB)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "creating QuickJS VM: %v", err)
	}
	defer vm.Close()

	if err := compileAndResolve(vm, source, role); err != nil {
		return nil, err
	}

	cf := &compiledFunction{
		source: source,
		role:   role,
		opts:   opts,
	}

	for i := 0; i < opts.WarmupIterations; i++ {
		_, _ = cf.invokeOnce(json.RawMessage(`{}`), nil)
	}

	return cf, nil
}

// newVM creates a QuickJS VM, optionally memory-bounded.
func newVM(memoryLimitMB int) (*quickjs.VM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, err
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}
	return vm, nil
}

// compileAndResolve evaluates source as a top-level script and resolves the
// exported function under internalFnGlobal, either because the top-level
// expression was itself callable or because globalThis[role] is.
func compileAndResolve(vm *quickjs.VM, source string, role core.FunctionRole) error {
	rt := &qjsRuntime{vm: vm}
	if err := rt.Eval(consoleSetupJS); err != nil {
		return core.Errorf(core.KindInternal, "installing console: %v", err)
	}

	// Indirect eval runs source in global scope, so its top-level function
	// and var declarations land on globalThis, and yields its completion
	// value (the top-level expression result).
	quoted, err := json.Marshal(source)
	if err != nil {
		return core.Errorf(core.KindInvalidArgument, "encoding script: %v", err)
	}
	setup := fmt.Sprintf("globalThis.__fledge_top_result__ = (0, eval)(%s);", quoted)
	if err := rt.Eval(setup); err != nil {
		return core.Errorf(core.KindInvalidArgument, "compiling/running script: %v", err)
	}

	isTopFunc, _ := rt.EvalBool("typeof globalThis.__fledge_top_result__ === 'function'")
	if isTopFunc {
		if err := rt.Eval(fmt.Sprintf(
			"globalThis[%q] = globalThis.__fledge_top_result__; delete globalThis.__fledge_top_result__;",
			internalFnGlobal,
		)); err != nil {
			return core.Errorf(core.KindInternal, "installing export: %v", err)
		}
		return nil
	}
	_ = rt.Eval("delete globalThis.__fledge_top_result__;")

	ok, _ := rt.EvalBool(fmt.Sprintf("typeof globalThis[%q] === 'function'", role.String()))
	if !ok {
		return core.Errorf(core.KindInvalidArgument, "script does not export a %s function", role.String())
	}
	if err := rt.Eval(fmt.Sprintf("globalThis[%q] = globalThis[%q];", internalFnGlobal, role.String())); err != nil {
		return core.Errorf(core.KindInternal, "installing export: %v", err)
	}
	return nil
}

// compiledFunction is the QuickJS-backed core.CompiledFunction.
type compiledFunction struct {
	source string
	role   core.FunctionRole
	opts   core.CompileOptions
	closed atomic.Bool
}

var _ core.CompiledFunction = (*compiledFunction)(nil)

func (cf *compiledFunction) Close() { cf.closed.Store(true) }

// Invoke spins up a fresh VM seeded from the validated source and calls the
// exported function once.
func (cf *compiledFunction) Invoke(args core.InvokeArgs) (json.RawMessage, error) {
	if cf.closed.Load() {
		return nil, core.Errorf(core.KindInternal, "invoking a closed function")
	}

	var input json.RawMessage
	if len(args.Flat) > 0 {
		arr, err := json.Marshal(args.Flat)
		if err != nil {
			return nil, core.Errorf(core.KindFailedPrecondition, "marshaling flattened arguments: %v", err)
		}
		input = arr
	} else {
		input = args.Object
	}

	return cf.invokeOnce(input, &args)
}

// invokeResult carries an invocation's outcome across the watchdog goroutine
// boundary. QuickJS has no TerminateExecution equivalent reachable through
// modernc.org/quickjs, so a runaway script's goroutine is abandoned rather
// than killed — invokeOnce still returns a timeout error to the caller.
type invokeResult struct {
	out json.RawMessage
	err error
}

// invokeOnce rebuilds a VM from (source, role) and runs the export once
// against encodedInput (a JSON object, or a JSON array when flattened).
func (cf *compiledFunction) invokeOnce(encodedInput json.RawMessage, args *core.InvokeArgs) (json.RawMessage, error) {
	resultCh := make(chan invokeResult, 1)

	go func() {
		out, err := cf.runInVM(encodedInput, args)
		resultCh <- invokeResult{out: out, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.out, r.err
	case <-time.After(cf.opts.ExecuteDeadline):
		return nil, core.Errorf(core.KindInternal, "invocation timed out after %v", cf.opts.ExecuteDeadline)
	}
}

func (cf *compiledFunction) runInVM(encodedInput json.RawMessage, args *core.InvokeArgs) (json.RawMessage, error) {
	vm, err := newVM(cf.opts.MemoryLimitMB)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "creating QuickJS VM: %v", err)
	}
	defer vm.Close()

	if err := compileAndResolve(vm, cf.source, cf.role); err != nil {
		return nil, err
	}

	rt := &qjsRuntime{vm: vm}

	// encodedInput is a single JSON object in object-mode, or a JSON array
	// of positional arguments in flattened mode; apply() handles both by
	// wrapping object-mode into a one-element argument list.
	argsJS := "[" + string(encodedInput) + "]"
	if args != nil && len(args.Flat) > 0 {
		argsJS = string(encodedInput)
	}
	callJS := fmt.Sprintf("globalThis.__fledge_call_result__ = %s.apply(null, %s);", internalFnGlobal, argsJS)

	if err := rt.Eval(callJS); err != nil {
		return nil, core.Errorf(core.KindInternal, "calling function: %v", err)
	}

	rt.RunMicrotasks()

	isPromise, _ := rt.EvalBool("globalThis.__fledge_call_result__ instanceof Promise")
	if isPromise {
		deadline := time.Now().Add(cf.opts.AsyncWait)
		if err := awaitPromise(rt, "__fledge_call_result__", deadline); err != nil {
			return nil, err
		}
	}

	resultJSON, err := rt.EvalString("JSON.stringify(globalThis.__fledge_call_result__ === undefined ? null : globalThis.__fledge_call_result__)")
	if err != nil {
		return nil, core.Errorf(core.KindFailedPrecondition, "serializing result: %v", err)
	}

	return json.RawMessage(resultJSON), nil
}

// awaitPromise pumps the microtask queue until globalVar's Promise settles
// or deadline elapses.
func awaitPromise(rt *qjsRuntime, globalVar string, deadline time.Time) error {
	setup := fmt.Sprintf(`
		delete globalThis.__fledge_await_state__;
		delete globalThis.__fledge_await_result__;
		Promise.resolve(globalThis.%s).then(
			function(r) { globalThis.__fledge_await_result__ = r; globalThis.__fledge_await_state__ = 'fulfilled'; },
			function(e) { globalThis.__fledge_await_result__ = (e && e.message) ? e.message : String(e); globalThis.__fledge_await_state__ = 'rejected'; }
		);
	`, globalVar)
	if err := rt.Eval(setup); err != nil {
		return core.Errorf(core.KindInternal, "setting up promise await: %v", err)
	}

	for {
		rt.RunMicrotasks()
		state, err := rt.EvalString("String(globalThis.__fledge_await_state__)")
		if err != nil {
			return core.Errorf(core.KindInternal, "checking promise state: %v", err)
		}
		if state != "undefined" {
			break
		}
		if time.Now().After(deadline) {
			return core.Errorf(core.KindInvalidArgument, "promise timed out")
		}
	}

	state, _ := rt.EvalString("String(globalThis.__fledge_await_state__)")
	if state == "rejected" {
		msg, _ := rt.EvalString("String(globalThis.__fledge_await_result__)")
		_ = rt.Eval("delete globalThis.__fledge_await_state__; delete globalThis.__fledge_await_result__;")
		return core.Errorf(core.KindInvalidArgument, "promise rejected: %s", msg)
	}

	_ = rt.Eval(fmt.Sprintf(
		"globalThis.%s = globalThis.__fledge_await_result__; delete globalThis.__fledge_await_state__; delete globalThis.__fledge_await_result__;",
		globalVar))
	return nil
}
