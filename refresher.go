package auction

import (
	"log"
	"sync"
	"time"

	"github.com/cryguy/fledge-auction/internal/core"
)

// DefaultRefreshInterval is the spec's documented default; interval is
// measured from the end of one rebuild to the start of the next, so
// rebuilds never overlap themselves.
const DefaultRefreshInterval = 1 * time.Minute

// Refresher periodically rebuilds a Repository Snapshot from Configuration
// via the Source Fetcher and Script Engine, and atomically publishes it.
// Per-script failures degrade that entry to Unavailable without aborting
// the rebuild; a top-level failure (the build closure itself erroring)
// leaves the previous Snapshot in place.
type Refresher struct {
	repo   *Repository
	config Configuration
	engine *ScriptEngine
	fetch  *SourceFetcher

	firstDelay time.Duration
	interval   time.Duration

	timerEnabled bool

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewRefresher returns a Refresher that, once Start is called, rebuilds on
// a (firstDelay, interval) timer.
func NewRefresher(repo *Repository, config Configuration, engine *ScriptEngine, fetch *SourceFetcher, firstDelay, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		repo:         repo,
		config:       config,
		engine:       engine,
		fetch:        fetch,
		firstDelay:   firstDelay,
		interval:     interval,
		timerEnabled: true,
	}
}

// NewTestRefresher returns a Refresher whose timer is disabled; only RunNow
// triggers a rebuild, synchronously on the calling goroutine. Integration
// tests use this to get deterministic, on-demand refresh behavior instead
// of racing a background timer.
func NewTestRefresher(repo *Repository, config Configuration, engine *ScriptEngine, fetch *SourceFetcher) *Refresher {
	return &Refresher{
		repo:         repo,
		config:       config,
		engine:       engine,
		fetch:        fetch,
		timerEnabled: false,
	}
}

// Start launches the background refresh loop. A no-op for refreshers built
// with NewTestRefresher. Safe to call once.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.timerEnabled || r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop(r.stopCh, r.doneCh)
}

// Stop signals the background loop to exit and waits for it to do so. A
// pending first_delay or interval sleep is interrupted immediately rather
// than being allowed to elapse, so shutdown completes within one
// scheduling quantum as required.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (r *Refresher) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	if !sleepInterruptibly(r.firstDelay, stopCh) {
		return
	}

	for {
		_ = r.RunNow()

		if !sleepInterruptibly(r.interval, stopCh) {
			return
		}
	}
}

// sleepInterruptibly blocks for d or until stopCh closes, returning false
// in the latter case.
func sleepInterruptibly(d time.Duration, stopCh <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// RunNow synchronously rebuilds a candidate Snapshot from the current
// Configuration and publishes it on success. It is exported so both the
// background loop and tests (via NewTestRefresher) can trigger a rebuild.
func (r *Refresher) RunNow() error {
	snap, err := r.build()
	if err != nil {
		// Top-level failure: retain the previous snapshot.
		log.Printf("refresher: rebuild failed, keeping previous snapshot: %v", err)
		return err
	}
	r.repo.Publish(snap)
	log.Printf("refresher: published snapshot with %d bidder(s), %d scorer(s)", len(snap.bidders), len(snap.scorers))
	return nil
}

// build runs the construction pipeline: fetch + compile every configured
// bidder and scorer. A script-level failure degrades that uri to
// Unavailable; it never aborts the overall rebuild.
func (r *Refresher) build() (*Snapshot, error) {
	builder := NewSnapshotBuilder()

	for _, spec := range r.config.Bidders {
		fn := r.compileOne(spec, core.RoleBidder)
		builder.PutBidder(spec.URI, fn)
	}
	for _, spec := range r.config.Scorers {
		fn := r.compileOne(spec, core.RoleScorer)
		builder.PutScorer(spec.URI, fn)
	}

	return builder.Build(), nil
}

// compileOne fetches and compiles a single FunctionSpec, returning nil
// (meaning Unavailable) on any failure rather than propagating it.
func (r *Refresher) compileOne(spec FunctionSpec, role core.FunctionRole) core.CompiledFunction {
	source, err := r.fetch.Fetch(spec)
	if err != nil {
		return nil
	}
	source, err = transpileSource(spec.URI, source)
	if err != nil {
		return nil
	}
	fn, err := r.engine.Compile(source, role)
	if err != nil {
		return nil
	}
	return fn
}
