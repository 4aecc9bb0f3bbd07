package auction

import (
	"sync/atomic"

	"github.com/cryguy/fledge-auction/internal/core"
)

// presence is the tri-state lookup result for one uri within a Snapshot
// mapping: a key is either Present with a compiled function, Unavailable
// (configured but failed to compile at the last refresh), or simply absent
// (never configured).
type presence int

const (
	presenceUnavailable presence = iota
	presencePresent
)

// snapshotEntry is the value stored per uri in one of a Snapshot's two
// mappings.
type snapshotEntry struct {
	state presence
	fn    core.CompiledFunction
}

// Snapshot is an immutable, published view of the Function Repository: two
// mappings (bidders, scorers) keyed by uri. Once constructed a Snapshot is
// never mutated; concurrent readers may hold references to different
// generations simultaneously.
type Snapshot struct {
	bidders map[string]snapshotEntry
	scorers map[string]snapshotEntry
}

// GetBidder looks up uri in the Bidders mapping.
func (s *Snapshot) GetBidder(uri string) (core.CompiledFunction, error) {
	return lookup(s.bidders, uri)
}

// GetScorer looks up uri in the Scorers mapping.
func (s *Snapshot) GetScorer(uri string) (core.CompiledFunction, error) {
	return lookup(s.scorers, uri)
}

func lookup(m map[string]snapshotEntry, uri string) (core.CompiledFunction, error) {
	entry, ok := m[uri]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "no function configured for %q", uri)
	}
	if entry.state != presencePresent {
		return nil, core.Errorf(core.KindUnavailable, "function %q failed to compile at last refresh", uri)
	}
	return entry.fn, nil
}

// SnapshotBuilder accumulates entries for the next Snapshot generation.
// Every uri configured as a bidder or scorer must be recorded exactly once,
// either Present or Unavailable — callers never leave a key unrecorded.
type SnapshotBuilder struct {
	bidders map[string]snapshotEntry
	scorers map[string]snapshotEntry
}

// NewSnapshotBuilder returns an empty builder.
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		bidders: make(map[string]snapshotEntry),
		scorers: make(map[string]snapshotEntry),
	}
}

// PutBidder records uri as Present (fn != nil) or Unavailable (fn == nil).
func (b *SnapshotBuilder) PutBidder(uri string, fn core.CompiledFunction) {
	b.bidders[uri] = entryFor(fn)
}

// PutScorer records uri as Present (fn != nil) or Unavailable (fn == nil).
func (b *SnapshotBuilder) PutScorer(uri string, fn core.CompiledFunction) {
	b.scorers[uri] = entryFor(fn)
}

func entryFor(fn core.CompiledFunction) snapshotEntry {
	if fn == nil {
		return snapshotEntry{state: presenceUnavailable}
	}
	return snapshotEntry{state: presencePresent, fn: fn}
}

// Build finalizes the accumulated entries into an immutable Snapshot.
func (b *SnapshotBuilder) Build() *Snapshot {
	return &Snapshot{bidders: b.bidders, scorers: b.scorers}
}

// Repository is the read-mostly, atomically-swapped holder of the current
// Snapshot. Reads never block; the single writer (the Periodic Refresher)
// publishes a new generation with Publish, which every subsequent Current
// call observes atomically.
type Repository struct {
	current atomic.Pointer[Snapshot]
}

// NewRepository returns a Repository seeded with an empty Snapshot so
// Current is always safe to call, even before the first successful build.
func NewRepository() *Repository {
	r := &Repository{}
	r.current.Store(NewSnapshotBuilder().Build())
	return r
}

// Current returns the Snapshot generation in effect at the moment of the
// call. A caller should call this exactly once per request and reuse the
// result for every lookup within that request, so the whole request
// observes one consistent generation even if a refresh happens mid-flight.
func (r *Repository) Current() *Snapshot {
	return r.current.Load()
}

// Publish atomically replaces the current Snapshot. Readers that already
// hold a reference to the previous generation keep a fully valid view of
// it; it is garbage the moment the last such reference is dropped.
func (r *Repository) Publish(snap *Snapshot) {
	r.current.Store(snap)
}
