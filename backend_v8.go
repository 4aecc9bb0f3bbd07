//go:build v8

package auction

import (
	"github.com/cryguy/fledge-auction/internal/core"
	"github.com/cryguy/fledge-auction/internal/v8engine"
)

// newBackend selects the V8-backed Script Engine implementation. Built only
// when the v8 build tag is set; see backend_quickjs.go for the default.
func newBackend() core.EngineBackend {
	return v8engine.NewEngine()
}

const backendName = "v8"
