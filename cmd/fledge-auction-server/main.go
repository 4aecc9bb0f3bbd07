// Command fledge-auction-server hosts the auction engine behind a minimal
// HTTP shell. The RPC server shell itself is out of scope for the engine
// package; this binary is the thinnest possible host for it.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	auction "github.com/cryguy/fledge-auction"
	"github.com/cryguy/fledge-auction/internal/core"
)

func main() {
	bindAddress := flag.String("bind_address", ":8080", "address to listen on")
	configFile := flag.String("configuration_file", "", "path to the YAML configuration file")
	useSandbox2 := flag.Bool("use_sandbox2", false, "run each compiled script in an OS-level process sandbox")
	refreshInterval := flag.Duration("function_refresh_interval", auction.DefaultRefreshInterval, "how often the repository snapshot is rebuilt")
	asyncWait := flag.Duration("bidding_function_async_wait", core.DefaultAsyncWait, "how long a bidding/scoring promise is given to settle")
	flag.Parse()

	if *useSandbox2 {
		log.Printf("fledge-auction-server: --use_sandbox2 requested but the in-process engine build does not honor it")
	}

	cfg, err := auction.LoadConfiguration(*configFile)
	if err != nil {
		log.Fatalf("fledge-auction-server: loading configuration: %v", err)
	}
	log.Printf("fledge-auction-server: loaded %s", auction.DescribeConfiguration(cfg))

	engine := auction.NewScriptEngine(core.EngineConfig{AsyncWait: *asyncWait})
	log.Printf("fledge-auction-server: script engine backend = %s", engine.Backend())

	repo := auction.NewRepository()
	fetcher := auction.NewSourceFetcher()

	refresher := auction.NewRefresher(repo, cfg, engine, fetcher, 0, *refreshInterval)
	if err := refresher.RunNow(); err != nil {
		log.Fatalf("fledge-auction-server: initial snapshot build failed: %v", err)
	}
	refresher.Start()
	defer refresher.Stop()

	driver := auction.NewDriver(repo, engine.FlattenArguments())

	mux := http.NewServeMux()
	mux.HandleFunc("/ComputeBid", withRequestID(computeBidHandler(driver)))
	mux.HandleFunc("/RunAdAuction", withRequestID(runAdAuctionHandler(driver)))

	log.Printf("fledge-auction-server: listening on %s", *bindAddress)
	if err := http.ListenAndServe(*bindAddress, mux); err != nil {
		log.Fatalf("fledge-auction-server: %v", err)
	}
}

// withRequestID tags every request with a correlation id for log
// correlation across the handler and any downstream script failures.
func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		start := time.Now()
		next(w, r)
		log.Printf("fledge-auction-server: request_id=%s method=%s path=%s duration=%s", reqID, r.Method, r.URL.Path, time.Since(start))
	}
}

type computeBidRequest struct {
	BiddingFunctionName string                       `json:"bidding_function_name"`
	Input               auction.BiddingFunctionInput `json:"input"`
}

func computeBidHandler(d *auction.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req computeBidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, core.Errorf(core.KindInvalidArgument, "decoding request body: %v", err))
			return
		}

		output, err := d.ComputeBid(req.BiddingFunctionName, req.Input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, output)
	}
}

type runAdAuctionRequest struct {
	InterestGroups        []auction.InterestGroup      `json:"interest_groups"`
	AuctionConfiguration  auction.AuctionConfiguration `json:"auction_configuration"`
	TrustedScoringSignals map[string]json.RawMessage   `json:"trusted_scoring_signals"`
}

type runAdAuctionResponse struct {
	WinningBid *auction.ScoredBid  `json:"winning_bid,omitempty"`
	LosingBids []auction.ScoredBid `json:"losing_bids"`
}

func runAdAuctionHandler(d *auction.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runAdAuctionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, core.Errorf(core.KindInvalidArgument, "decoding request body: %v", err))
			return
		}

		result, err := d.RunAdAuction(req.InterestGroups, req.AuctionConfiguration, req.TrustedScoringSignals)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runAdAuctionResponse{
			WinningBid: result.Winner,
			LosingBids: result.Losers,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an internal core.Error kind to an HTTP status per the
// spec's RPC status mapping, collapsed onto the HTTP codes closest in
// meaning since this shell speaks JSON-over-HTTP, not the RPC framework
// the original interface describes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.KindInvalidArgument:
		status = http.StatusBadRequest
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindPermissionDenied:
		status = http.StatusForbidden
	case core.KindUnavailable:
		status = http.StatusServiceUnavailable
	case core.KindFailedPrecondition:
		status = http.StatusPreconditionFailed
	case core.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
