package settings

import "testing"

func TestStoreApplyAndReset(t *testing.T) {
	store := NewStore()

	custom := Default()
	custom.DrawFromNearby = false
	custom.SearchRadius = 5
	custom.Priority = []string{"chest"}
	store.Apply(custom)

	got := store.Current()
	if got.DrawFromNearby || got.SearchRadius != 5 {
		t.Fatalf("current = %+v, want the applied snapshot", got)
	}

	store.Reset()
	if got := store.Current(); !got.DrawFromNearby || got.SearchRadius != Default().SearchRadius {
		t.Fatalf("current = %+v, want defaults after reset", got)
	}
}

func TestCurrentReturnsIndependentCopy(t *testing.T) {
	store := NewStore()

	first := store.Current()
	first.Priority[0] = "mutated"

	if got := store.Current(); got.Priority[0] == "mutated" {
		t.Fatalf("priority = %v, caller mutation leaked into the store", got.Priority)
	}
}

func TestCloneSharesNothing(t *testing.T) {
	original := Default()
	cloned := original.Clone()
	cloned.Priority[0] = "mutated"

	if original.Priority[0] == "mutated" {
		t.Fatalf("priority = %v, clone shares its slice with the original", original.Priority)
	}
}
