package auction

import (
	"testing"

	"github.com/cryguy/fledge-auction/internal/core"
)

func TestParseConfiguration_Basic(t *testing.T) {
	data := []byte(`
biddingFunctions:
  - uri: local://double
    source: "function generateBid() {}"
  - uri: https://dsp.example/bid.js
adScoringFunctions:
  - uri: https://seller.example/score.js
`)

	cfg, err := ParseConfiguration(data)
	if err != nil {
		t.Fatalf("ParseConfiguration: %v", err)
	}
	if len(cfg.Bidders) != 2 {
		t.Fatalf("Bidders = %+v, want 2 entries", cfg.Bidders)
	}
	if !cfg.Bidders[0].HasInlineSource || cfg.Bidders[0].InlineSource == "" {
		t.Errorf("local bidder missing inline source: %+v", cfg.Bidders[0])
	}
	if cfg.Bidders[1].HasInlineSource {
		t.Errorf("remote bidder should not carry inline source: %+v", cfg.Bidders[1])
	}
	if len(cfg.Scorers) != 1 {
		t.Fatalf("Scorers = %+v, want 1 entry", cfg.Scorers)
	}
}

func TestParseConfiguration_MissingURI(t *testing.T) {
	data := []byte(`
biddingFunctions:
  - source: "function generateBid() {}"
`)
	_, err := ParseConfiguration(data)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestParseConfiguration_DuplicateURI(t *testing.T) {
	data := []byte(`
biddingFunctions:
  - uri: https://dsp.example/bid.js
  - uri: https://dsp.example/bid.js
`)
	_, err := ParseConfiguration(data)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestParseConfiguration_LocalRequiresSource(t *testing.T) {
	data := []byte(`
biddingFunctions:
  - uri: local://no-source
`)
	_, err := ParseConfiguration(data)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestParseConfiguration_RemoteForbidsSource(t *testing.T) {
	data := []byte(`
biddingFunctions:
  - uri: https://dsp.example/bid.js
    source: "function generateBid() {}"
`)
	_, err := ParseConfiguration(data)
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestParseConfiguration_MalformedYAML(t *testing.T) {
	_, err := ParseConfiguration([]byte("not: [valid"))
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestLoadConfiguration_MissingFile(t *testing.T) {
	_, err := LoadConfiguration("/nonexistent/path/to/fledge.yaml")
	if core.KindOf(err) != core.KindNotFound {
		t.Errorf("kind = %v, want not-found", core.KindOf(err))
	}
}
