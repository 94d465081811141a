package covertree

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// PointSet is a flat row-major collection of n points of dimensionality
// dims, identified externally by their 0-based index in the input array.
// A PointSet is read-only once built; it is freely shared across goroutines.
type PointSet struct {
	data []float64
	n    int
	dims int
}

// NewPointSet wraps flat row-major data (n rows of dims columns) as a
// PointSet. data is copied so later mutation by the caller is safe.
func NewPointSet(data []float64, n, dims int) *PointSet {
	cp := make([]float64, len(data))
	copy(cp, data)
	return &PointSet{data: cp, n: n, dims: dims}
}

// Len returns the number of points.
func (p *PointSet) Len() int { return p.n }

// Dims returns the dimensionality of each point.
func (p *PointSet) Dims() int { return p.dims }

// At returns the coordinate slice for point id. The returned slice aliases
// internal storage and must not be mutated.
func (p *PointSet) At(id int) []float64 {
	return p.data[id*p.dims : (id+1)*p.dims]
}

// ByteLen returns the serialized length in bytes of a single point under
// the given floating-point width (4 or 8), per spec §4.1.
func (p *PointSet) ByteLen(fpBytes int) int { return p.dims * fpBytes }

// MarshalPoint encodes point id as dims little-endian float64s, appending to
// buf and returning the result. Used by the distributed package (spec
// §4.5) to scatter each rank's point partition and to replicate every
// rank's points after the build.
func (p *PointSet) MarshalPoint(id int, buf []byte) []byte {
	coords := p.At(id)
	for _, c := range coords {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c))
	}
	return buf
}

// UnmarshalPoint decodes dims little-endian float64s from the front of buf
// and returns them along with the remaining, unconsumed bytes.
func (p *PointSet) UnmarshalPoint(buf []byte) ([]float64, []byte, error) {
	n := p.dims * 8
	if len(buf) < n {
		return nil, nil, &InputError{Msg: fmt.Sprintf("point record truncated: want %d bytes, have %d", n, len(buf))}
	}
	coords := make([]float64, p.dims)
	for i := range coords {
		coords[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	return coords, buf[n:], nil
}

// Metric computes a symmetric, non-negative distance between two points
// with d(p,p)=0, obeying the triangle inequality. Implementations must be
// reentrant: no hidden mutable state, safe for concurrent use.
type Metric interface {
	// Distance returns the true distance between a and b.
	Distance(a, b []float64) float64
	// ReducedDistance returns a monotonic proxy for Distance that may be
	// cheaper to compute (e.g. squared Euclidean distance, skipping the
	// square root). Implementations that have no cheaper proxy return
	// Distance(a, b) unchanged.
	ReducedDistance(a, b []float64) float64
}

// MetricFunc adapts a plain function into a Metric. ReducedDistance
// delegates to the same function (no reduced-distance optimization).
type MetricFunc func(a, b []float64) float64

func (f MetricFunc) Distance(a, b []float64) float64        { return f(a, b) }
func (f MetricFunc) ReducedDistance(a, b []float64) float64 { return f(a, b) }

// EuclideanMetric computes the Euclidean (L2) distance. ReducedDistance
// returns squared Euclidean distance, taking the square root only at the
// boundary where Distance is actually called, per spec §4.1.
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	mustMatchDims(a, b)
	return floats.Distance(a, b, 2)
}

func (EuclideanMetric) ReducedDistance(a, b []float64) float64 {
	mustMatchDims(a, b)
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Dot(diff, diff)
}

// ManhattanMetric computes the Manhattan (L1) distance. It has no cheaper
// reduced form, so ReducedDistance equals Distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	mustMatchDims(a, b)
	return floats.Distance(a, b, 1)
}

func (m ManhattanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

// validateDims returns an *InputError if a and b have different lengths,
// or if that length doesn't match dims.
func validateDims(dims int, a, b []float64) error {
	if len(a) != dims || len(b) != dims {
		return &InputError{Msg: fmt.Sprintf("point dimension mismatch: want %d, got %d and %d", dims, len(a), len(b))}
	}
	return nil
}

// mustMatchDims enforces spec §4.1's dimension contract at every Metric
// call: a and b must be the same length. Metric's Distance/ReducedDistance
// return only a float64, so a mismatch — always a caller bug, never bad
// input reaching this layer untouched — surfaces as a panic rather than an
// error return, the same way the teacher's own MinkowskiMetric panics on an
// invalid parameter rather than threading an error through Distance.
func mustMatchDims(a, b []float64) {
	if err := validateDims(len(a), a, b); err != nil {
		panic(err)
	}
}
