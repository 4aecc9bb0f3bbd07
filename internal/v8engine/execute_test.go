//go:build v8

package v8engine

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/fledge-auction/internal/core"
)

func testOpts() core.CompileOptions {
	return core.CompileOptions{
		WarmupIterations: 1,
		ExecuteDeadline:  time.Second,
		AsyncWait:        50 * time.Millisecond,
	}
}

func TestEngine_GenerateBidDoubling(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`function generateBid(input) { return { bid: input.per_buyer_signals.foo * 2 }; }`, core.RoleBidder, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	out, err := fn.Invoke(core.InvokeArgs{Object: []byte(`{"per_buyer_signals":{"foo":21}}`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(string(out), `"bid":42`) {
		t.Errorf("output = %s, want bid 42", out)
	}
}

func TestEngine_ExportedFunctionExpression(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`(input) => ({ desirability_score: input.bid })`, core.RoleScorer, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	out, err := fn.Invoke(core.InvokeArgs{Object: []byte(`{"bid":5}`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(string(out), `"desirability_score":5`) {
		t.Errorf("output = %s", out)
	}
}

func TestEngine_MissingExportIsInvalidArgument(t *testing.T) {
	e := NewEngine()
	_, err := e.Compile(`var notAFunction = 1;`, core.RoleBidder, testOpts())
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestEngine_PromiseReturningFunctionAwaited(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`function generateBid(input) { return Promise.resolve({ bid: 7 }); }`, core.RoleBidder, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	out, err := fn.Invoke(core.InvokeArgs{Object: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(string(out), `"bid":7`) {
		t.Errorf("output = %s, want bid 7", out)
	}
}

func TestEngine_RejectedPromiseIsInvalidArgument(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`function generateBid() { return Promise.reject(new Error("bad")); }`, core.RoleBidder, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	_, err = fn.Invoke(core.InvokeArgs{Object: []byte(`{}`)})
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestEngine_FlattenedArguments(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`function generateBid(a, b) { return { bid: a + b }; }`, core.RoleBidder, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	out, err := fn.Invoke(core.InvokeArgs{Flat: []json.RawMessage{json.RawMessage("3"), json.RawMessage("4")}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(string(out), `"bid":7`) {
		t.Errorf("output = %s, want bid 7", out)
	}
}

func TestEngine_InvocationTimesOut(t *testing.T) {
	e := NewEngine()
	opts := testOpts()
	opts.ExecuteDeadline = 20 * time.Millisecond
	fn, err := e.Compile(`function generateBid() { while (true) {} }`, core.RoleBidder, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fn.Close()

	_, err = fn.Invoke(core.InvokeArgs{Object: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestEngine_InvokeAfterCloseFails(t *testing.T) {
	e := NewEngine()
	fn, err := e.Compile(`function generateBid() { return {}; }`, core.RoleBidder, testOpts())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fn.Close()

	_, err = fn.Invoke(core.InvokeArgs{Object: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected an error invoking a closed function")
	}
}
