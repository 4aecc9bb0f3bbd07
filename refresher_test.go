package auction

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cryguy/fledge-auction/internal/core"
)

func TestRefresher_RunNowPublishesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("function generateBid() { return 1; }"))
	}))
	defer srv.Close()

	cfg := Configuration{
		Bidders: []FunctionSpec{
			{URI: "local://inline", InlineSource: "function generateBid() {}", HasInlineSource: true},
			{URI: srv.URL + "/bid.js"},
		},
	}

	repo := NewRepository()
	refresher := NewTestRefresher(repo, cfg, NewScriptEngine(core.EngineConfig{}), NewSourceFetcher())

	if err := refresher.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	snap := repo.Current()
	if _, err := snap.GetBidder("local://inline"); err != nil {
		t.Errorf("local bidder not present after refresh: %v", err)
	}
	if _, err := snap.GetBidder(srv.URL + "/bid.js"); err != nil {
		t.Errorf("remote bidder not present after refresh: %v", err)
	}
}

func TestRefresher_UnreachableFunctionDegradesToUnavailable(t *testing.T) {
	cfg := Configuration{
		Bidders: []FunctionSpec{
			{URI: "https://127.0.0.1:1/unreachable-bid.js"},
		},
	}

	repo := NewRepository()
	refresher := NewTestRefresher(repo, cfg, NewScriptEngine(core.EngineConfig{}), NewSourceFetcher())

	if err := refresher.RunNow(); err != nil {
		t.Fatalf("RunNow should tolerate a single unreachable function, got: %v", err)
	}

	snap := repo.Current()
	_, err := snap.GetBidder("https://127.0.0.1:1/unreachable-bid.js")
	if core.KindOf(err) != core.KindUnavailable {
		t.Errorf("kind = %v, want unavailable", core.KindOf(err))
	}
}

func TestRefresher_StartStopIsResponsive(t *testing.T) {
	repo := NewRepository()
	refresher := NewRefresher(repo, Configuration{}, NewScriptEngine(core.EngineConfig{}), NewSourceFetcher(), time.Hour, time.Hour)

	refresher.Start()
	done := make(chan struct{})
	go func() {
		refresher.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return promptly while sleeping through a long first_delay")
	}
}

func TestRefresher_StopIsIdempotentWithoutStart(t *testing.T) {
	repo := NewRepository()
	refresher := NewRefresher(repo, Configuration{}, NewScriptEngine(core.EngineConfig{}), NewSourceFetcher(), 0, time.Minute)
	refresher.Stop()
	refresher.Stop()
}
