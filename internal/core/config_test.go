package core

import "testing"

func TestEngineConfig_WithDefaults(t *testing.T) {
	c := EngineConfig{}.WithDefaults()
	if c.WarmupIterations != DefaultWarmupIterations {
		t.Errorf("WarmupIterations = %d, want %d", c.WarmupIterations, DefaultWarmupIterations)
	}
	if c.AsyncWait != DefaultAsyncWait {
		t.Errorf("AsyncWait = %v, want %v", c.AsyncWait, DefaultAsyncWait)
	}
	if c.ExecuteDeadline != DefaultExecuteDeadline {
		t.Errorf("ExecuteDeadline = %v, want %v", c.ExecuteDeadline, DefaultExecuteDeadline)
	}
}

func TestEngineConfig_WithDefaultsPreservesExplicitValues(t *testing.T) {
	c := EngineConfig{WarmupIterations: 3, FlattenArguments: true}.WithDefaults()
	if c.WarmupIterations != 3 {
		t.Errorf("WarmupIterations = %d, want 3", c.WarmupIterations)
	}
	if !c.FlattenArguments {
		t.Error("FlattenArguments should survive WithDefaults")
	}
}

func TestEngineConfig_ToCompileOptions(t *testing.T) {
	c := EngineConfig{FlattenArguments: true, WarmupIterations: 5, MemoryLimitMB: 64}.WithDefaults()
	opts := c.ToCompileOptions()
	if opts.FlattenArguments != c.FlattenArguments || opts.WarmupIterations != c.WarmupIterations ||
		opts.ExecuteDeadline != c.ExecuteDeadline || opts.AsyncWait != c.AsyncWait || opts.MemoryLimitMB != c.MemoryLimitMB {
		t.Errorf("ToCompileOptions() = %+v, did not mirror %+v", opts, c)
	}
}
