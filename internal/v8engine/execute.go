//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cryguy/fledge-auction/internal/core"
	v8 "github.com/tommie/v8go"
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

// Engine implements core.EngineBackend using V8 isolates.
type Engine struct{}

// NewEngine returns a V8-backed EngineBackend.
func NewEngine() *Engine { return &Engine{} }

var _ core.EngineBackend = (*Engine)(nil)

// Compile instantiates a fresh isolate, compiles source, resolves the
// exported function per role, warms it up, and returns a CompiledFunction
// that rebuilds a disposable isolate from the validated (source, role)
// pair on every Invoke — so no per-request JS state ever survives between
// calls.
func (e *Engine) Compile(source string, role core.FunctionRole, opts core.CompileOptions) (core.CompiledFunction, error) {
	iso, ctx, err := newIsolate(opts.MemoryLimitMB)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "creating isolate: %v", err)
	}
	defer iso.Dispose()
	defer ctx.Close()

	useExpr, err := compileAndResolve(iso, ctx, source, role)
	if err != nil {
		return nil, err
	}

	cf := &compiledFunction{
		source:  source,
		role:    role,
		opts:    opts,
		useExpr: useExpr,
	}

	for i := 0; i < opts.WarmupIterations; i++ {
		_, _ = cf.invokeOnce(json.RawMessage(`{}`), nil)
	}

	return cf, nil
}

// newIsolate creates an isolate+context pair, optionally memory-bounded.
func newIsolate(memoryLimitMB int) (*v8.Isolate, *v8.Context, error) {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		heapSize := uint64(memoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	return iso, ctx, nil
}

// compileAndResolve compiles source as a top-level script, executes it, and
// resolves the exported function under internalFnGlobal. It returns whether
// the top-level expression itself was the callable (useExpr); every call
// runs the full resolution order regardless.
func compileAndResolve(iso *v8.Isolate, ctx *v8.Context, source string, role core.FunctionRole) (useExpr bool, err error) {
	rt := &v8Runtime{iso: iso, ctx: ctx}
	if err := rt.Eval(consoleSetupJS); err != nil {
		return false, core.Errorf(core.KindInternal, "installing console: %v", err)
	}

	script, err := iso.CompileUnboundScript(source, "function.js", v8.CompileOptions{})
	if err != nil {
		return false, core.Errorf(core.KindInvalidArgument, "compiling script: %v", err)
	}

	result, err := script.Run(ctx)
	if err != nil {
		return false, core.Errorf(core.KindInvalidArgument, "running script: %v", err)
	}

	if result != nil && result.IsFunction() {
		if err := ctx.Global().Set(internalFnGlobal, result); err != nil {
			return false, core.Errorf(core.KindInternal, "installing export: %v", err)
		}
		return true, nil
	}

	lookup := fmt.Sprintf("globalThis[%q]", role.String())
	val, err := ctx.RunScript(fmt.Sprintf("typeof %s === 'function' ? %s : undefined", lookup, lookup), "lookup_export.js")
	if err != nil || val == nil || val.IsUndefined() {
		return false, core.Errorf(core.KindInvalidArgument, "script does not export a %s function", role.String())
	}
	if err := ctx.Global().Set(internalFnGlobal, val); err != nil {
		return false, core.Errorf(core.KindInternal, "installing export: %v", err)
	}
	return false, nil
}

// compiledFunction is the V8-backed core.CompiledFunction.
type compiledFunction struct {
	source  string
	role    core.FunctionRole
	opts    core.CompileOptions
	useExpr bool
	closed  atomic.Bool
}

var _ core.CompiledFunction = (*compiledFunction)(nil)

func (cf *compiledFunction) Close() { cf.closed.Store(true) }

// Invoke spins up a fresh isolate seeded from the validated source and
// calls the exported function once.
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

// invokeOnce rebuilds an isolate from (source, role) and runs the export
// once against encodedInput (a JSON object, or a JSON array when flattened).
func (cf *compiledFunction) invokeOnce(encodedInput json.RawMessage, args *core.InvokeArgs) (json.RawMessage, error) {
	iso, ctx, err := newIsolate(cf.opts.MemoryLimitMB)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "creating isolate: %v", err)
	}
	defer iso.Dispose()
	defer ctx.Close()

	if _, err := compileAndResolve(iso, ctx, cf.source, cf.role); err != nil {
		return nil, err
	}

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(cf.opts.ExecuteDeadline, func() {
		timedOut.Store(true)
		iso.TerminateExecution()
	})
	defer watchdog.Stop()

	rt := &v8Runtime{iso: iso, ctx: ctx}

	// encodedInput is a single JSON object in object-mode, or a JSON array
	// of positional arguments in flattened mode; apply() handles both by
	// wrapping object-mode into a one-element argument list.
	argsJS := "[" + string(encodedInput) + "]"
	if args != nil && len(args.Flat) > 0 {
		argsJS = string(encodedInput)
	}
	callJS := fmt.Sprintf("globalThis.__fledge_call_result__ = %s.apply(null, %s);", internalFnGlobal, argsJS)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if timedOut.Load() {
					runErr = core.Errorf(core.KindInternal, "invocation timed out after %v", cf.opts.ExecuteDeadline)
				} else {
					runErr = core.Errorf(core.KindInternal, "panic during invocation: %v", r)
				}
			}
		}()
		_, runErr = ctx.RunScript(callJS, "call.js")
	}()
	if runErr != nil {
		if timedOut.Load() {
			return nil, core.Errorf(core.KindInternal, "invocation timed out after %v", cf.opts.ExecuteDeadline)
		}
		return nil, core.Errorf(core.KindInternal, "calling function: %v", runErr)
	}

	rt.RunMicrotasks()

	isPromise, _ := rt.EvalBool("globalThis.__fledge_call_result__ instanceof Promise")
	if isPromise {
		deadline := time.Now().Add(cf.opts.AsyncWait)
		if err := awaitPromise(rt, "__fledge_call_result__", deadline); err != nil {
			return nil, err
		}
	}

	if timedOut.Load() {
		return nil, core.Errorf(core.KindInternal, "invocation timed out after %v", cf.opts.ExecuteDeadline)
	}

	resultJSON, err := rt.EvalString("JSON.stringify(globalThis.__fledge_call_result__ === undefined ? null : globalThis.__fledge_call_result__)")
	if err != nil {
		return nil, core.Errorf(core.KindFailedPrecondition, "serializing result: %v", err)
	}

	return json.RawMessage(resultJSON), nil
}

// awaitPromise pumps the microtask queue until globalVar's Promise settles
// or deadline elapses.
func awaitPromise(rt *v8Runtime, globalVar string, deadline time.Time) error {
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
