// Package core holds the types and interfaces shared between the two
// script-engine backends (V8 and QuickJS) and the rest of the auction
// engine. Nothing in this package depends on a specific JS engine.
package core

import (
	"encoding/json"
	"time"
)

// FunctionRole selects the JS calling convention a CompiledFunction exposes.
type FunctionRole int

const (
	// RoleBidder selects the generateBid(...) calling convention.
	RoleBidder FunctionRole = iota
	// RoleScorer selects the scoreAd(...) calling convention.
	RoleScorer
)

// String returns the role's exported-global name, e.g. "generateBid".
func (r FunctionRole) String() string {
	switch r {
	case RoleBidder:
		return "generateBid"
	case RoleScorer:
		return "scoreAd"
	default:
		return "unknown"
	}
}

// CompileOptions controls how a script is compiled and invoked.
type CompileOptions struct {
	// FlattenArguments selects flattened positional arguments over a single
	// object argument when invoking the compiled function.
	FlattenArguments bool

	// WarmupIterations is the number of empty-input calls made during
	// construction to stabilize JIT/inline caches. Errors are swallowed.
	WarmupIterations int

	// ExecuteDeadline bounds a single invocation's wall-clock time.
	ExecuteDeadline time.Duration

	// AsyncWait bounds how long a returned Promise is given to settle.
	AsyncWait time.Duration

	// MemoryLimitMB caps the isolate/VM heap, 0 means unbounded.
	MemoryLimitMB int
}

// CompiledFunction is an opaque, thread-safe handle owning one sandboxed VM
// seeded with a warmed-up copy of one function. It is produced by an
// EngineBackend and owned by whichever auction.Snapshot references it.
type CompiledFunction interface {
	// Invoke runs the compiled function once against a single JSON-encoded
	// input (an object for object-mode, or a JSON array of positional
	// arguments for flattened mode is built internally from Flat).
	// It returns the JSON-encoded result.
	Invoke(args InvokeArgs) (json.RawMessage, error)

	// Close releases the resources backing this compiled function. Safe to
	// call once the last snapshot referencing it has been dropped.
	Close()
}

// InvokeArgs carries the two argument-building strategies described in the
// spec: a single JSON object, or a list of already-marshaled positional
// arguments taken in declaration order.
type InvokeArgs struct {
	// Object is used when CompileOptions.FlattenArguments is false.
	Object json.RawMessage
	// Flat is used when CompileOptions.FlattenArguments is true. Each
	// element becomes one positional JS argument, in order.
	Flat []json.RawMessage
}
