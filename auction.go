package auction

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/cryguy/fledge-auction/internal/core"
)

// Driver orchestrates ComputeBid and RunAdAuction against whatever
// Repository Snapshot is current at the moment each request enters.
type Driver struct {
	repo             *Repository
	flattenArguments bool
}

// NewDriver returns a Driver reading from repo. flattenArguments must match
// the ScriptEngine's CompileOptions.FlattenArguments used to build repo's
// snapshots — it is a repository-wide calling-convention choice, not a
// per-function one.
func NewDriver(repo *Repository, flattenArguments bool) *Driver {
	return &Driver{repo: repo, flattenArguments: flattenArguments}
}

// ComputeBid invokes the named bidding function once against input.
func (d *Driver) ComputeBid(name string, input BiddingFunctionInput) (BiddingFunctionOutput, error) {
	snap := d.repo.Current()

	fn, err := snap.GetBidder(name)
	if err != nil {
		return BiddingFunctionOutput{}, err
	}

	var output BiddingFunctionOutput
	if err := d.invoke(fn, input, &output); err != nil {
		return BiddingFunctionOutput{}, err
	}
	return output, nil
}

// RunAdAuction runs a full sealed-bid auction: filter by allow-set, bid,
// score, rank by desirability_score descending with a stable tie-break,
// and classify the head as winner iff its score is strictly positive.
func (d *Driver) RunAdAuction(groups []InterestGroup, cfg AuctionConfiguration, trustedScoringSignalsByRenderURL map[string]signals) (AdAuctionResult, error) {
	snap := d.repo.Current()

	allowed := make(map[string]bool, len(cfg.InterestGroupBuyers))
	for _, owner := range cfg.InterestGroupBuyers {
		allowed[owner] = true
	}

	scored := make([]ScoredBid, 0, len(groups))

	// The scorer is looked up lazily, on the first candidate that survives
	// the allow-set filter and produces a bid. A request in which no
	// candidate gets that far (none allowed, every bidder missing or
	// failing) never needs the scorer at all and stays OK/empty, even when
	// the scorer is not configured.
	var scorerFn core.CompiledFunction
	var scorerLookedUp bool

	for _, ig := range groups {
		if !allowed[ig.Owner] {
			continue
		}

		bidderFn, err := snap.GetBidder(ig.BiddingLogicURL)
		if err != nil {
			continue
		}

		biddingInput := BiddingFunctionInput{
			InterestGroup:         ig,
			AuctionSignals:        cfg.AuctionSignals,
			PerBuyerSignals:       cfg.PerBuyerSignals[ig.Owner],
			TrustedBiddingSignals: ig.TrustedBiddingSignals,
			BrowserSignals:        ig.BrowserSignals,
		}

		var bidOut BiddingFunctionOutput
		if err := d.invoke(bidderFn, biddingInput, &bidOut); err != nil {
			continue
		}

		if !scorerLookedUp {
			scorerLookedUp = true
			fn, err := snap.GetScorer(cfg.DecisionLogicURL)
			if err != nil {
				return AdAuctionResult{}, err
			}
			scorerFn = fn
		}

		scoringInput := AdScoringFunctionInput{
			AdMetadata:            bidOut.Ad,
			Bid:                   bidOut.Bid,
			AuctionConfig:         cfg,
			TrustedScoringSignals: trustedScoringSignalsByRenderURL[bidOut.RenderURL],
			BrowserSignals:        ig.BrowserSignals,
		}

		var scoreOut AdScoringFunctionOutput
		if err := d.invoke(scorerFn, scoringInput, &scoreOut); err != nil {
			return AdAuctionResult{}, err
		}

		scored = append(scored, ScoredBid{
			Owner:             ig.Owner,
			Name:              ig.Name,
			RenderURL:         bidOut.RenderURL,
			BidPrice:          bidOut.Bid,
			DesirabilityScore: scoreOut.DesirabilityScore,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].DesirabilityScore > scored[j].DesirabilityScore
	})

	if len(scored) > 0 && scored[0].DesirabilityScore > 0 {
		winner := scored[0]
		return AdAuctionResult{Winner: &winner, Losers: scored[1:]}, nil
	}
	return AdAuctionResult{Losers: scored}, nil
}

// invoke marshals in per the driver's calling convention, invokes fn, and
// unmarshals the result into out.
func (d *Driver) invoke(fn core.CompiledFunction, in any, out any) error {
	args, err := buildInvokeArgs(in, d.flattenArguments)
	if err != nil {
		return err
	}

	result, err := fn.Invoke(args)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result, out); err != nil {
		return core.Errorf(core.KindFailedPrecondition, "unable to convert the function output from JSON: %v", err)
	}
	return nil
}

// buildInvokeArgs encodes in as a single object argument, or as one
// positional argument per top-level struct field in declaration order when
// flatten is true.
func buildInvokeArgs(in any, flatten bool) (core.InvokeArgs, error) {
	if !flatten {
		encoded, err := json.Marshal(in)
		if err != nil {
			return core.InvokeArgs{}, core.Errorf(core.KindFailedPrecondition, "marshaling invocation input: %v", err)
		}
		return core.InvokeArgs{Object: encoded}, nil
	}

	flat, err := flattenTopLevelFields(in)
	if err != nil {
		return core.InvokeArgs{}, err
	}
	return core.InvokeArgs{Flat: flat}, nil
}

// flattenTopLevelFields walks in's exported struct fields in declaration
// order and marshals each individually, matching the spec's flattened
// calling convention: message fields become objects, numeric fields become
// numbers, map fields become plain JSON objects. Any field whose value
// can't be marshaled to JSON fails the whole invocation as
// failed-precondition, since the input shape is a construction-time
// contract, not a per-call choice.
func flattenTopLevelFields(in any) ([]json.RawMessage, error) {
	v := reflect.ValueOf(in)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, core.Errorf(core.KindFailedPrecondition, "flattened invocation requires a struct input, got %T", in)
	}

	t := v.Type()
	args := make([]json.RawMessage, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		encoded, err := json.Marshal(v.Field(i).Interface())
		if err != nil {
			return nil, core.Errorf(core.KindFailedPrecondition, "flattening field %q: %v", field.Name, err)
		}
		args = append(args, encoded)
	}
	return args, nil
}
