package dist

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/parhub/covertree"
)

func TestBalancedCounts(t *testing.T) {
	cases := []struct {
		total, n int
		want     []int
	}{
		{10, 3, []int{4, 3, 3}},
		{9, 3, []int{3, 3, 3}},
		{1, 4, []int{1, 0, 0, 0}},
		{0, 2, []int{0, 0}},
	}
	for _, c := range cases {
		got := BalancedCounts(c.total, c.n)
		sum := 0
		for i, v := range got {
			if v != c.want[i] {
				t.Errorf("BalancedCounts(%d,%d) = %v, want %v", c.total, c.n, got, c.want)
				break
			}
			sum += v
		}
		if sum != c.total {
			t.Errorf("BalancedCounts(%d,%d) sums to %d, want %d", c.total, c.n, sum, c.total)
		}
	}
}

// runDistributed partitions data (n points of dims dimensions) across
// nranks simulated ranks, runs Build concurrently on each, and returns the
// resulting tree from rank 0 (every rank's replica is expected to agree).
func runDistributed(t *testing.T, data []float64, n, dims, nranks int, params DistParams) (*covertree.Tree, []*covertree.PointSet, []int) {
	t.Helper()
	counts := BalancedCounts(n, nranks)
	transports := NewInProcessTransports(nranks)

	localPoints := make([]*covertree.PointSet, nranks)
	offsets := make([]int, nranks)
	offset := 0
	for r, c := range counts {
		offsets[r] = offset
		localData := make([]float64, c*dims)
		copy(localData, data[offset*dims:(offset+c)*dims])
		localPoints[r] = covertree.NewPointSet(localData, c, dims)
		offset += c
	}

	trees := make([]*covertree.Tree, nranks)
	errs := make([]error, nranks)
	var wg sync.WaitGroup
	for r := 0; r < nranks; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			trees[r], errs[r] = Build(transports[r], localPoints[r], offsets[r], n, covertree.EuclideanMetric{}, params, nil)
		}()
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d Build error: %v", r, err)
		}
	}
	return trees[0], localPoints, offsets
}

func TestDistBuild_SmallPointSet(t *testing.T) {
	data := []float64{0, 0, 1, 0, 10, 0, 11, 0}
	params := DefaultDistParams()
	params.MinHubSize = 1
	params.SwitchPercent = 0

	tree, _, _ := runDistributed(t, data, 4, 2, 2, params)
	if tree.NumVertices() != 4 {
		t.Fatalf("NumVertices = %d, want 4", tree.NumVertices())
	}
}

func TestDistBuild_ReplicasAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n, dims := 80, 3
	data := make([]float64, n*dims)
	for i := range data {
		data[i] = rng.Float64() * 10
	}

	params := DefaultDistParams()
	params.MinHubSize = 4
	params.SwitchPercent = 20

	counts := BalancedCounts(n, 4)
	transports := NewInProcessTransports(4)
	localPoints := make([]*covertree.PointSet, 4)
	offsets := make([]int, 4)
	offset := 0
	for r, c := range counts {
		offsets[r] = offset
		localData := make([]float64, c*dims)
		copy(localData, data[offset*dims:(offset+c)*dims])
		localPoints[r] = covertree.NewPointSet(localData, c, dims)
		offset += c
	}

	trees := make([]*covertree.Tree, 4)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree, err := Build(transports[r], localPoints[r], offsets[r], n, covertree.EuclideanMetric{}, params, nil)
			if err != nil {
				t.Errorf("rank %d Build error: %v", r, err)
				return
			}
			trees[r] = tree
		}()
	}
	wg.Wait()

	want := globalTriples(trees[0])
	for r := 1; r < 4; r++ {
		got := globalTriples(trees[r])
		if len(got) != len(want) {
			t.Fatalf("rank %d has %d vertices, rank 0 has %d", r, len(got), len(want))
		}
		for k := range want {
			if !got[k] {
				t.Errorf("rank %d missing vertex triple %v present on rank 0", r, k)
			}
		}
	}
}

type globalTriple struct {
	pointID, parentPointID, level int
}

func globalTriples(tree *covertree.Tree) map[globalTriple]bool {
	ins := tree.Insert()
	out := make(map[globalTriple]bool, ins.NumVertices())
	for id := 0; id < ins.NumVertices(); id++ {
		parentPoint := -1
		if p := ins.ParentID(id); p != covertree.NoParent {
			parentPoint = ins.PointID(p)
		}
		out[globalTriple{ins.PointID(id), parentPoint, ins.Level(id)}] = true
	}
	return out
}

func TestDistBuild_ForcesGhostedSubtrees(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n, dims := 60, 2
	data := make([]float64, n*dims)
	for i := range data {
		data[i] = rng.Float64() * 5
	}

	params := DefaultDistParams()
	params.MinHubSize = 50
	params.SwitchPercent = 100 // every hub ghosts immediately

	tree, localPoints, offsets := runDistributed(t, data, n, dims, 3, params)
	if err := tree.IsCorrect(); err != nil {
		t.Errorf("IsCorrect: %v", err)
	}

	graph := BuildEpsilonGraph(tree, localPoints[0], 1.0)
	edges := EmitEdges(graph, offsets[0])
	if len(edges) == 0 {
		t.Error("expected at least one edge line from a dense random point set")
	}
}

func TestEmitEdges_TranslatesGlobalOffset(t *testing.T) {
	graph := [][]int{{5, 6}, {5}}
	got := string(EmitEdges(graph, 10))
	want := "10 5\n10 6\n11 5\n"
	if got != want {
		t.Errorf("EmitEdges = %q, want %q", got, want)
	}
}

func TestInProcessTransport_ReduceFarthest(t *testing.T) {
	transports := NewInProcessTransports(3)
	dists := []float64{1, 5, 3}

	results := make([]struct {
		rank, id int
		dist     float64
	}, 3)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			rank, id, dist := transports[r].ReduceFarthest(r, dists[r])
			results[r] = struct {
				rank, id int
				dist     float64
			}{rank, id, dist}
		}()
	}
	wg.Wait()

	for r, res := range results {
		if res.rank != 1 || res.id != 1 || res.dist != 5 {
			t.Errorf("rank %d saw winner (%d,%d,%v), want (1,1,5)", r, res.rank, res.id, res.dist)
		}
	}
}

func TestInProcessTransport_Exscan(t *testing.T) {
	transports := NewInProcessTransports(4)
	counts := []int{3, 1, 4, 2}
	want := []int{0, 3, 4, 8}

	got := make([]int, 4)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[r] = transports[r].Exscan(counts[r])
		}()
	}
	wg.Wait()

	for r := range want {
		if got[r] != want[r] {
			t.Errorf("rank %d Exscan = %d, want %d", r, got[r], want[r])
		}
	}
}

func TestInProcessTransport_Gather(t *testing.T) {
	transports := NewInProcessTransports(3)

	gathered := make([][]byte, 3)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			gathered[r] = transports[r].Gather(0, []byte{byte(r)})
		}()
	}
	wg.Wait()

	if gathered[0] == nil {
		t.Fatal("root's Gather result is nil")
	}
	got := append([]byte{}, gathered[0]...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if string(got) != string([]byte{0, 1, 2}) {
		t.Errorf("Gather at root = %v, want [0 1 2]", gathered[0])
	}
	for r := 1; r < 3; r++ {
		if gathered[r] != nil {
			t.Errorf("Gather at non-root rank %d = %v, want nil", r, gathered[r])
		}
	}
}

func TestInProcessTransport_Scatter(t *testing.T) {
	transports := NewInProcessTransports(3)
	chunks := [][]byte{{10, 11}, {20}, {30, 31, 32}}

	got := make([][]byte, 3)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			var mine [][]byte
			if r == 0 {
				mine = chunks
			}
			got[r] = transports[r].Scatter(0, mine)
		}()
	}
	wg.Wait()

	for r, want := range chunks {
		if string(got[r]) != string(want) {
			t.Errorf("rank %d Scatter = %v, want %v", r, got[r], want)
		}
	}
}

func TestScatterPoints(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	points := covertree.NewPointSet(data, 4, 2)
	counts := BalancedCounts(4, 3)
	transports := NewInProcessTransports(3)

	local := make([]*covertree.PointSet, 3)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			local[r] = ScatterPoints(transports[r], 0, points, counts, 2)
		}()
	}
	wg.Wait()

	offset := 0
	for r, c := range counts {
		if local[r].Len() != c {
			t.Fatalf("rank %d got %d points, want %d", r, local[r].Len(), c)
		}
		for i := 0; i < c; i++ {
			want := points.At(offset + i)
			got := local[r].At(i)
			for j := range want {
				if got[j] != want[j] {
					t.Errorf("rank %d point %d coord %d = %v, want %v", r, i, j, got[j], want[j])
				}
			}
		}
		offset += c
	}
}

func TestCodec_FloatsPrefixedRoundTrip(t *testing.T) {
	vs := []float64{1.5, -2.25, 0, 100.125}
	buf := encodeFloatsPrefixed(vs)
	buf = append(buf, 0xFF, 0xFE) // trailing bytes must survive untouched

	got, rest := decodeFloatsPrefixed(buf)
	for i := range vs {
		if got[i] != vs[i] {
			t.Errorf("decoded[%d] = %v, want %v", i, got[i], vs[i])
		}
	}
	if len(rest) != 2 || rest[0] != 0xFF || rest[1] != 0xFE {
		t.Errorf("rest = %v, want [255 254]", rest)
	}
}

func TestCodec_Int64SliceRoundTrip(t *testing.T) {
	var buf []byte
	buf = encodeInt64Append(buf, 7)
	buf = encodeInt64Append(buf, 9)
	buf = encodeInt64Append(buf, 3)
	buf = encodeInt64Append(buf, 4)

	groups := decodeInt64Slice(buf, 2)
	if len(groups) != 2 || groups[0][0] != 7 || groups[0][1] != 9 || groups[1][0] != 3 || groups[1][1] != 4 {
		t.Errorf("decodeInt64Slice = %v, want [[7 9] [3 4]]", groups)
	}
}
