package compositional

import "testing"

func TestEnumerate_CanonicalOrder(t *testing.T) {
	pairs := Enumerate(4)
	expected := []Pair{
		{0, 1},
		{0, 2}, {1, 2},
		{0, 3}, {1, 3}, {2, 3},
	}

	if len(pairs) != len(expected) {
		t.Fatalf("Expected %d pairs, got %d", len(expected), len(pairs))
	}
	for k, pr := range expected {
		if pairs[k] != pr {
			t.Errorf("Pair %d: expected %v, got %v", k, pr, pairs[k])
		}
	}
}

func TestEnumerate_CoversEveryPairOnce(t *testing.T) {
	for d := 2; d <= 12; d++ {
		pairs := Enumerate(d)
		if len(pairs) != PairCount(d) {
			t.Fatalf("d=%d: expected %d pairs, got %d", d, PairCount(d), len(pairs))
		}

		seen := make(map[Pair]bool)
		for _, pr := range pairs {
			if pr.Partner >= pr.Index {
				t.Errorf("d=%d: pair %v violates Partner < Index", d, pr)
			}
			if seen[pr] {
				t.Errorf("d=%d: pair %v enumerated twice", d, pr)
			}
			seen[pr] = true
		}
	}
}

func TestIndexOf_MatchesEnumeration(t *testing.T) {
	for d := 2; d <= 12; d++ {
		for k, pr := range Enumerate(d) {
			if got := IndexOf(pr.Partner, pr.Index); got != k {
				t.Errorf("d=%d: IndexOf(%d,%d)=%d, expected %d", d, pr.Partner, pr.Index, got, k)
			}
			// Unordered: swapped arguments map to the same index.
			if got := IndexOf(pr.Index, pr.Partner); got != k {
				t.Errorf("d=%d: IndexOf(%d,%d)=%d, expected %d", d, pr.Index, pr.Partner, got, k)
			}
		}
	}
}

func TestNewGroupLabels_RequiresExactlyTwoGroups(t *testing.T) {
	if _, err := NewGroupLabels([]string{"a", "a", "a"}, 3); err == nil {
		t.Error("Expected error for a single distinct label")
	}
	if _, err := NewGroupLabels([]string{"a", "b", "c"}, 3); err == nil {
		t.Error("Expected error for three distinct labels")
	}
	if _, err := NewGroupLabels([]string{"a", "b"}, 3); err == nil {
		t.Error("Expected error for a length mismatch")
	}

	g, err := NewGroupLabels([]string{"b", "a", "b", "a"}, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if g.Group1() != "b" || g.Group2() != "a" {
		t.Errorf("First distinct label should become group 1, got %q/%q", g.Group1(), g.Group2())
	}
	if got := g.Group1Indices(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Unexpected group 1 indices: %v", got)
	}
}

func TestNewCountMatrix_RejectsNegativeAndRagged(t *testing.T) {
	if _, err := NewCountMatrix([][]float64{{1, -2}}, nil, nil); err == nil {
		t.Error("Expected error for a negative count")
	}
	if _, err := NewCountMatrix([][]float64{{1, 2}, {1}}, nil, nil); err == nil {
		t.Error("Expected error for ragged rows")
	}
	if _, err := NewCountMatrix([][]float64{{1}}, nil, nil); err == nil {
		t.Error("Expected error for fewer than two features")
	}
}
