package auction

import (
	"github.com/cryguy/fledge-auction/internal/core"
)

// ScriptEngine is the thin façade the construction pipeline and the
// Auction Driver both use to reach the selected JS backend (V8 behind the
// v8 build tag, QuickJS otherwise). It carries the shared CompileOptions so
// every CompiledFunction in a Repository snapshot was built with the same
// warmup/deadline/async-wait tunables.
type ScriptEngine struct {
	backend core.EngineBackend
	config  core.EngineConfig
}

// NewScriptEngine wires up the build-tag-selected backend with cfg's
// defaults applied.
func NewScriptEngine(cfg core.EngineConfig) *ScriptEngine {
	return &ScriptEngine{
		backend: newBackend(),
		config:  cfg.WithDefaults(),
	}
}

// Backend reports which JS engine this process was built against, for
// startup logging.
func (e *ScriptEngine) Backend() string { return backendName }

// FlattenArguments reports the calling convention every CompiledFunction
// produced by this engine was built with.
func (e *ScriptEngine) FlattenArguments() bool { return e.config.FlattenArguments }

// Compile builds a CompiledFunction from source for the given role, using
// the engine's shared CompileOptions.
func (e *ScriptEngine) Compile(source string, role core.FunctionRole) (core.CompiledFunction, error) {
	return e.backend.Compile(source, role, e.config.ToCompileOptions())
}
