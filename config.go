package auction

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cryguy/fledge-auction/internal/core"
)

// rawFunctionEntry mirrors one element of the biddingFunctions/
// adScoringFunctions YAML lists.
type rawFunctionEntry struct {
	URI    string `yaml:"uri"`
	Source string `yaml:"source"`
}

// rawConfig is the top-level shape of the configuration file.
type rawConfig struct {
	BiddingFunctions  []rawFunctionEntry `yaml:"biddingFunctions"`
	AdScoringFunctions []rawFunctionEntry `yaml:"adScoringFunctions"`
}

// Configuration is the parsed, validated configuration: the list of
// bidding and scoring FunctionSpecs the construction pipeline should build
// a Repository snapshot from.
type Configuration struct {
	Bidders []FunctionSpec
	Scorers []FunctionSpec
}

// LoadConfiguration reads and validates the YAML configuration file at
// path. Missing file → not-found; structurally malformed YAML or any of
// the uri/source/duplicate-uri constraints → invalid-argument.
func LoadConfiguration(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Configuration{}, core.Errorf(core.KindNotFound, "configuration file %q not found", path)
		}
		return Configuration{}, core.Errorf(core.KindInternal, "reading configuration file %q: %v", path, err)
	}
	return ParseConfiguration(data)
}

// ParseConfiguration validates and converts raw YAML bytes into a
// Configuration. Exposed separately from LoadConfiguration so tests can
// exercise the validation rules without a filesystem.
func ParseConfiguration(data []byte) (Configuration, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Configuration{}, core.Errorf(core.KindInvalidArgument, "parsing configuration: %v", err)
	}

	bidders, err := toFunctionSpecs(raw.BiddingFunctions)
	if err != nil {
		return Configuration{}, err
	}
	scorers, err := toFunctionSpecs(raw.AdScoringFunctions)
	if err != nil {
		return Configuration{}, err
	}

	return Configuration{Bidders: bidders, Scorers: scorers}, nil
}

// toFunctionSpecs validates one of the two entry lists: uri is required,
// source is required iff the uri scheme is local, and uris must be unique
// within the list.
func toFunctionSpecs(entries []rawFunctionEntry) ([]FunctionSpec, error) {
	seen := make(map[string]bool, len(entries))
	specs := make([]FunctionSpec, 0, len(entries))

	for _, e := range entries {
		if e.URI == "" {
			return nil, core.Errorf(core.KindInvalidArgument, "configuration entry missing required uri")
		}
		if seen[e.URI] {
			return nil, core.Errorf(core.KindInvalidArgument, "uri %q defined more than once", e.URI)
		}
		seen[e.URI] = true

		spec := FunctionSpec{URI: e.URI}
		isLocal := len(e.URI) >= len("local://") && e.URI[:len("local://")] == "local://"
		if isLocal {
			if e.Source == "" {
				return nil, core.Errorf(core.KindInvalidArgument, "local uri %q requires source", e.URI)
			}
			spec.InlineSource = e.Source
			spec.HasInlineSource = true
		} else if e.Source != "" {
			return nil, core.Errorf(core.KindInvalidArgument, "non-local uri %q must not specify source", e.URI)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

// DescribeConfiguration is a small debugging helper used by the CLI shell
// to log how much configuration was loaded without dumping full sources.
func DescribeConfiguration(cfg Configuration) string {
	return fmt.Sprintf("%d bidding function(s), %d scoring function(s)", len(cfg.Bidders), len(cfg.Scorers))
}
