package results

import (
	"math"
	"reflect"
	"testing"

	"propd/domain/compositional"
)

// fakeAnalysis is a minimal Analysis implementation for filter tests.
type fakeAnalysis struct {
	values    []float64
	direction compositional.Direction
}

func (f *fakeAnalysis) NumPairs() int                   { return len(f.values) }
func (f *fakeAnalysis) PairAt(k int) compositional.Pair { return compositional.Enumerate(10)[k] }
func (f *fakeAnalysis) PairIndex(i, j int) int          { return compositional.IndexOf(i, j) }
func (f *fakeAnalysis) Values() []float64               { return f.values }

func (f *fakeAnalysis) CutoffDirection() compositional.Direction {
	return f.direction
}

func TestFilter_LessOrEqualDirection(t *testing.T) {
	a := &fakeAnalysis{
		values:    []float64{0.1, 0.5, 0.9, 0.5},
		direction: compositional.DirectionLessOrEqual,
	}

	kept := Filter(a, 0.5)
	if want := []int{0, 1, 3}; !reflect.DeepEqual(kept, want) {
		t.Errorf("Filter kept %v, expected %v", kept, want)
	}
}

func TestFilter_GreaterOrEqualDirection(t *testing.T) {
	a := &fakeAnalysis{
		values:    []float64{0.1, 0.5, 0.9, 0.5},
		direction: compositional.DirectionGreaterOrEqual,
	}

	kept := Filter(a, 0.5)
	if want := []int{1, 2, 3}; !reflect.DeepEqual(kept, want) {
		t.Errorf("Filter kept %v, expected %v", kept, want)
	}
}

func TestFilter_SkipsNaN(t *testing.T) {
	a := &fakeAnalysis{
		values:    []float64{math.NaN(), 0.2, math.NaN()},
		direction: compositional.DirectionLessOrEqual,
	}

	kept := Filter(a, 1)
	if want := []int{1}; !reflect.DeepEqual(kept, want) {
		t.Errorf("Filter kept %v, expected %v", kept, want)
	}
}

func TestAll_ReturnsEveryIndex(t *testing.T) {
	a := &fakeAnalysis{values: make([]float64, 4)}
	if got := All(a); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Errorf("All returned %v", got)
	}
}
