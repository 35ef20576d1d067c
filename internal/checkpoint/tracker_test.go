package checkpoint

import (
	"testing"

	"mailsift/internal/index"
)

func spans(ids ...uint32) []index.Span {
	s := make([]index.Span, len(ids))
	for i, id := range ids {
		s[i] = index.Span{ID: id}
	}
	return s
}

func idSet(ids ...uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestRemainingFilters(t *testing.T) {
	entries := spans(0, 1, 2, 3, 4)

	got := Remaining(entries, idSet(1, 3))
	want := []uint32{0, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("remaining: want %d entries got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.ID != want[i] {
			t.Errorf("position %d: want id %d got %d (order must be preserved)", i, want[i], e.ID)
		}
	}
}

func TestRemainingMultipleSets(t *testing.T) {
	entries := spans(0, 1, 2, 3)

	got := Remaining(entries, idSet(0), idSet(2))
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("remaining with two sets: got %+v", got)
	}
}

func TestRemainingEmptyCases(t *testing.T) {
	if got := Remaining(nil, idSet(1)); len(got) != 0 {
		t.Errorf("nil entries: want empty got %+v", got)
	}
	if got := Remaining(spans(5, 6)); len(got) != 2 {
		t.Errorf("no done sets: want all entries got %+v", got)
	}
	if got := Remaining(spans(5, 6), idSet(5, 6)); len(got) != 0 {
		t.Errorf("all done: want empty got %+v", got)
	}
}
