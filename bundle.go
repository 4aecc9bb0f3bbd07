package auction

import (
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/fledge-auction/internal/core"
)

// transpileTarget is the common syntax denominator both backends are
// guaranteed to run: QuickJS's parser lags V8 on the newest syntax, so every
// fetched script is downleveled to the same target regardless of which
// backend this process was built with, rather than letting QuickJS-only
// failures depend on the build tag the binary happened to ship with.
var transpileTarget = esbuild.ES2018

// transpileSource normalizes one fetched script before it ever reaches the
// Script Engine: syntax newer than transpileTarget is downleveled, and
// comments/excess whitespace are stripped. It refuses multi-file ES module
// sources — bundling a generateBid/scoreAd script's imports would require
// fetching and resolving additional URIs, which the Source Fetcher's single
// blocking GET per uri does not do.
func transpileSource(uri, source string) (string, error) {
	if referencesModules(source) {
		return "", core.Errorf(core.KindInvalidArgument, "uri %q: import/require statements are not supported; scripts must be self-contained", uri)
	}

	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:            esbuild.LoaderJS,
		Target:            transpileTarget,
		MinifyWhitespace:  true,
		MinifyIdentifiers: false,
		MinifySyntax:      true,
		Sourcefile:        uri,
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", core.Errorf(core.KindInvalidArgument, "uri %q: transpiling script: %s", uri, strings.Join(msgs, "; "))
	}

	return string(result.Code), nil
}

// referencesModules reports whether source contains syntax this pipeline
// can't bundle on its own, mirroring the cheap substring check a bundler
// uses to decide whether a full module graph resolution is needed at all.
func referencesModules(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "export ") ||
		strings.Contains(source, "require(")
}
