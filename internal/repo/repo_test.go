package repo

import "testing"

func TestClampLeavesStartIndexUntouched(t *testing.T) {
	for _, startIndex := range []int{0, -1, -100} {
		got := Clamp(ListParams{StartIndex: startIndex, Count: 10})
		if got.StartIndex != startIndex {
			t.Fatalf("Clamp must not coerce an out-of-range startIndex (caller's job to reject it); got %d for input %d", got.StartIndex, startIndex)
		}
	}
}

func TestClampBoundsCountToMax(t *testing.T) {
	got := Clamp(ListParams{StartIndex: 1, Count: 5000})
	if got.Count != 1000 {
		t.Fatalf("expected count clamped to 1000, got %d", got.Count)
	}
}
