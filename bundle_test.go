package auction

import (
	"strings"
	"testing"

	"github.com/cryguy/fledge-auction/internal/core"
)

func TestTranspileSource_DownlevelsOptionalChaining(t *testing.T) {
	out, err := transpileSource("local://x", `function generateBid(input) { return { bid: input?.per_buyer_signals?.foo ?? 0 }; }`)
	if err != nil {
		t.Fatalf("transpileSource: %v", err)
	}
	if strings.Contains(out, "??") || strings.Contains(out, "?.") {
		t.Errorf("expected optional chaining/nullish coalescing to be downleveled, got: %s", out)
	}
	if !strings.Contains(out, "generateBid") {
		t.Errorf("expected generateBid to survive transpilation, got: %s", out)
	}
}

func TestTranspileSource_RejectsImports(t *testing.T) {
	_, err := transpileSource("https://dsp.example/bid.js", `import { helper } from "./helper.js"; function generateBid() {}`)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestTranspileSource_RejectsRequire(t *testing.T) {
	_, err := transpileSource("https://dsp.example/bid.js", `const helper = require("./helper.js"); function generateBid() {}`)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestTranspileSource_SyntaxErrorIsInvalidArgument(t *testing.T) {
	_, err := transpileSource("local://x", `function generateBid( { return`)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}
