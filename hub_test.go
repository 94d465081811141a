package covertree

import "testing"

func TestHub_InitSetsSeedAndActiveRadius(t *testing.T) {
	points := NewPointSet([]float64{0, 0, 3, 0, 5, 0}, 3, 2)
	tree := NewInsertTree(0)
	h := newHub(NoParent, []int{0, 1, 2})

	h.Init(tree, points, EuclideanMetric{})

	if h.activeRadius != 5 {
		t.Errorf("activeRadius = %v, want 5", h.activeRadius)
	}
	if tree.NumVertices() != 1 {
		t.Errorf("NumVertices after Init = %d, want 1", tree.NumVertices())
	}
	if tree.Radius(h.parentVertex) != 5 {
		t.Errorf("root Radius = %v, want 5", tree.Radius(h.parentVertex))
	}
}

func TestHub_StepCommitsFarthestBeyondThreshold(t *testing.T) {
	points := NewPointSet([]float64{0, 0, 10, 0}, 2, 2)
	tree := NewInsertTree(0)
	h := newHub(NoParent, []int{0, 1})

	h.Init(tree, points, EuclideanMetric{})
	committed, err := h.Step(tree, points, EuclideanMetric{}, 0.5, 1)
	if err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if !committed {
		t.Fatal("expected Step to commit a new center")
	}
	if tree.NumVertices() != 2 {
		t.Errorf("NumVertices = %d, want 2", tree.NumVertices())
	}
}

func TestHub_StepStopsWithinTolerance(t *testing.T) {
	points := NewPointSet([]float64{0, 0, 1, 0}, 2, 2)
	tree := NewInsertTree(0)
	h := newHub(NoParent, []int{0, 1})

	h.Init(tree, points, EuclideanMetric{})
	// activeRadius = 1; splitRatio*activeRadius = 0.9 < 1, so the
	// farthest point (distance 1) still exceeds the threshold and is
	// committed on the first call.
	committed, err := h.Step(tree, points, EuclideanMetric{}, 0.9, 1)
	if err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if !committed {
		t.Fatal("expected commit: distance 1 > 0.9*1")
	}

	// A second call has no remaining uncommitted candidates.
	committed, err = h.Step(tree, points, EuclideanMetric{}, 0.9, 1)
	if err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if committed {
		t.Fatal("expected no further commit once every candidate is its own center")
	}
	if h.Status() != HubReadyToSplit {
		t.Errorf("Status = %v, want HubReadyToSplit", h.Status())
	}
}

func TestHub_SplitProducesSingleChildAndNoRootRadiusOverwrite(t *testing.T) {
	// Scenario B: two points at distance D, split_ratio=0.5, min_hub_size=1.
	points := NewPointSet([]float64{0, 0, 4, 0}, 2, 2)
	tree := NewInsertTree(0)
	h := newHub(NoParent, []int{0, 1})

	h.Init(tree, points, EuclideanMetric{})
	for {
		committed, err := h.Step(tree, points, EuclideanMetric{}, 0.5, 1)
		if err != nil {
			t.Fatalf("Step error: %v", err)
		}
		if !committed {
			break
		}
	}
	specs := h.Split(tree)

	if len(specs) != 0 {
		t.Errorf("expected no child hubs (every center attracted only itself), got %d", len(specs))
	}
	if tree.NumVertices() != 2 {
		t.Fatalf("NumVertices = %d, want 2", tree.NumVertices())
	}
	if tree.Radius(0) != 4 {
		t.Errorf("root cover radius = %v, want 4 (frozen at Init, not overwritten by Split)", tree.Radius(0))
	}
}

func TestHub_ResolveAsLeaves(t *testing.T) {
	points := NewPointSet([]float64{0, 0, 1, 0, 2, 0}, 3, 1)
	tree := NewInsertTree(0)
	h := newHub(NoParent, []int{0, 1, 2})

	h.resolveAsLeaves(tree, points, EuclideanMetric{})

	// 1 (the hub's own vertex) + 3 leaf children, one per candidate
	// including the seed's own point — candidateIDs[0] must still appear
	// in a literal leaf, not just be represented by the hub's own vertex.
	if tree.NumVertices() != 4 {
		t.Fatalf("NumVertices = %d, want 4", tree.NumVertices())
	}
	if h.Status() != HubLeaf {
		t.Errorf("Status = %v, want HubLeaf", h.Status())
	}
	for id := 1; id < 4; id++ {
		if tree.ParentID(id) != 0 {
			t.Errorf("vertex %d ParentID = %d, want 0", id, tree.ParentID(id))
		}
		if tree.Radius(id) != 0 {
			t.Errorf("leaf %d Radius = %v, want 0", id, tree.Radius(id))
		}
	}
	seen := make([]bool, 3)
	for id := 0; id < tree.NumVertices(); id++ {
		if len(tree.ChildrenOf(id)) == 0 {
			seen[tree.PointID(id)] = true
		}
	}
	for pid, ok := range seen {
		if !ok {
			t.Errorf("point %d appears in no leaf", pid)
		}
	}
}

func TestSeedFirst(t *testing.T) {
	got := seedFirst([]int{3, 1, 2}, 2)
	want := []int{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("seedFirst = %v, want %v", got, want)
			break
		}
	}
}
