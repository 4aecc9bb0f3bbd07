package core

// EngineBackend is the interface that engine implementations (QuickJS, V8)
// must satisfy. The root package selects one of these at build time via
// the v8/!v8 build tags, behind newBackend.
type EngineBackend interface {
	// Compile compiles source as a top-level script, locates the exported
	// function for role, runs the warmup calls, and returns a CompiledFunction
	// ready for repeated invocation. The returned value owns its own VM
	// resources and must be Close()d exactly once.
	Compile(source string, role FunctionRole, opts CompileOptions) (CompiledFunction, error)
}
