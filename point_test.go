package covertree

import (
	"math"
	"testing"
)

func TestPointSet_AtAndLen(t *testing.T) {
	p := NewPointSet([]float64{0, 0, 1, 1, 2, 2}, 3, 2)

	if p.Len() != 3 {
		t.Errorf("Len() = %d, want 3", p.Len())
	}
	if p.Dims() != 2 {
		t.Errorf("Dims() = %d, want 2", p.Dims())
	}

	want := [][]float64{{0, 0}, {1, 1}, {2, 2}}
	for i, w := range want {
		got := p.At(i)
		if got[0] != w[0] || got[1] != w[1] {
			t.Errorf("At(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestPointSet_CopiesData(t *testing.T) {
	data := []float64{1, 2}
	p := NewPointSet(data, 1, 2)
	data[0] = 99

	if p.At(0)[0] == 99 {
		t.Error("PointSet shared storage with caller's slice")
	}
}

func TestEuclideanMetric(t *testing.T) {
	m := EuclideanMetric{}
	a := []float64{0, 0}
	b := []float64{3, 4}

	if got := m.Distance(a, b); math.Abs(got-5) > 1e-9 {
		t.Errorf("Distance = %v, want 5", got)
	}
	if got := m.ReducedDistance(a, b); math.Abs(got-25) > 1e-9 {
		t.Errorf("ReducedDistance = %v, want 25", got)
	}
}

func TestEuclideanMetric_DimMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected Distance to panic on mismatched dimensions")
		}
	}()
	EuclideanMetric{}.Distance([]float64{0, 0}, []float64{1, 1, 1})
}

func TestManhattanMetric(t *testing.T) {
	m := ManhattanMetric{}
	a := []float64{0, 0}
	b := []float64{3, 4}

	if got := m.Distance(a, b); got != 7 {
		t.Errorf("Distance = %v, want 7", got)
	}
	if got := m.ReducedDistance(a, b); got != 7 {
		t.Errorf("ReducedDistance = %v, want Distance unchanged", got)
	}
}

func TestMetricFunc(t *testing.T) {
	calls := 0
	m := MetricFunc(func(a, b []float64) float64 {
		calls++
		return 1
	})

	if d := m.Distance(nil, nil); d != 1 {
		t.Errorf("Distance = %v, want 1", d)
	}
	if d := m.ReducedDistance(nil, nil); d != 1 {
		t.Errorf("ReducedDistance = %v, want 1", d)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPointSet_MarshalUnmarshalPoint(t *testing.T) {
	p := NewPointSet([]float64{1.5, -2.5, 3.0}, 1, 3)

	buf := p.MarshalPoint(0, nil)
	coords, rest, err := p.UnmarshalPoint(buf)
	if err != nil {
		t.Fatalf("UnmarshalPoint error: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
	want := []float64{1.5, -2.5, 3.0}
	for i := range want {
		if coords[i] != want[i] {
			t.Errorf("coords[%d] = %v, want %v", i, coords[i], want[i])
		}
	}
}

func TestPointSet_UnmarshalPoint_Truncated(t *testing.T) {
	p := NewPointSet([]float64{0, 0, 0}, 1, 3)
	_, _, err := p.UnmarshalPoint([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected an error for a truncated point record")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("err = %T, want *InputError", err)
	}
}
