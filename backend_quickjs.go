//go:build !v8

package auction

import (
	"github.com/cryguy/fledge-auction/internal/core"
	"github.com/cryguy/fledge-auction/internal/quickjs"
)

// newBackend selects the QuickJS-backed Script Engine implementation. This
// is the default build; pass -tags=v8 to build against V8 instead.
func newBackend() core.EngineBackend {
	return quickjs.NewEngine()
}

const backendName = "quickjs"
