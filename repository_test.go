package auction

import (
	"testing"

	"github.com/cryguy/fledge-auction/internal/core"
)

func TestRepository_EmptyByDefault(t *testing.T) {
	repo := NewRepository()
	snap := repo.Current()

	if _, err := snap.GetBidder("local://anything"); core.KindOf(err) != core.KindNotFound {
		t.Errorf("GetBidder on empty snapshot: kind = %v, want not-found", core.KindOf(err))
	}
	if _, err := snap.GetScorer("local://anything"); core.KindOf(err) != core.KindNotFound {
		t.Errorf("GetScorer on empty snapshot: kind = %v, want not-found", core.KindOf(err))
	}
}

func TestSnapshot_TriState(t *testing.T) {
	present := &fakeFunction{}
	b := NewSnapshotBuilder()
	b.PutBidder("local://present", present)
	b.PutBidder("local://unavailable", nil)
	snap := b.Build()

	if fn, err := snap.GetBidder("local://present"); err != nil || fn != present {
		t.Errorf("present lookup = %v, %v; want %v, nil", fn, err, present)
	}
	if _, err := snap.GetBidder("local://unavailable"); core.KindOf(err) != core.KindUnavailable {
		t.Errorf("unavailable lookup kind = %v, want unavailable", core.KindOf(err))
	}
	if _, err := snap.GetBidder("local://never-configured"); core.KindOf(err) != core.KindNotFound {
		t.Errorf("unconfigured lookup kind = %v, want not-found", core.KindOf(err))
	}
}

func TestRepository_PublishSwapsGenerationsAtomically(t *testing.T) {
	repo := NewRepository()

	b1 := NewSnapshotBuilder()
	b1.PutBidder("local://a", &fakeFunction{})
	gen1 := b1.Build()
	repo.Publish(gen1)

	held := repo.Current()
	if held != gen1 {
		t.Fatalf("Current() after first publish did not return gen1")
	}

	b2 := NewSnapshotBuilder()
	b2.PutBidder("local://b", &fakeFunction{})
	gen2 := b2.Build()
	repo.Publish(gen2)

	if _, err := held.GetBidder("local://a"); err != nil {
		t.Errorf("a previously-held snapshot reference must remain valid after a later Publish: %v", err)
	}
	if repo.Current() != gen2 {
		t.Errorf("Current() after second publish did not return gen2")
	}
}
