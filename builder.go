package covertree

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/stat"
)

// Tree is a built cover tree: an InsertTree paired with the points and
// metric it was built over, ready to answer radius queries (spec §4.4).
type Tree struct {
	insert     *InsertTree
	points     *PointSet
	metric     Metric
	splitRatio float64
}

// NumVertices returns the number of vertices in the tree.
func (t *Tree) NumVertices() int { return t.insert.NumVertices() }

// NumLevels returns the number of levels in the tree.
func (t *Tree) NumLevels() int { return t.insert.NumLevels() }

// Insert exposes the tree's underlying InsertTree for callers that need
// direct vertex access (e.g. persistence, the distributed builder's
// subtree merge).
func (t *Tree) Insert() *InsertTree { return t.insert }

// NewTree wraps an already-built InsertTree as a Tree, ready for
// RadiusQuery/IsCorrect. Used by the distributed builder (package dist) to
// assemble a Tree view over a replicated insert-tree it has grown through
// its own two-phase protocol rather than through Build.
func NewTree(insert *InsertTree, points *PointSet, metric Metric, splitRatio float64) *Tree {
	return &Tree{insert: insert, points: points, metric: metric, splitRatio: splitRatio}
}

// RadiusQuery returns the point ids within r of q (spec §4.4's "Radius
// query"). It walks the tree from the root, pruning any subtree whose
// child c cannot possibly hold a hit: d(q, point(c)) > r + Radius(c).
// Each point id is returned once, even when the point is represented by
// more than one vertex.
func (t *Tree) RadiusQuery(q []float64, r float64) []int {
	if t.insert.NumVertices() == 0 {
		return nil
	}

	var hits []int
	seen := make(map[int]bool)
	var visit func(v int)
	visit = func(v int) {
		pid := t.insert.PointID(v)
		p := t.points.At(pid)
		if t.metric.Distance(q, p) <= r && !seen[pid] {
			seen[pid] = true
			hits = append(hits, pid)
		}
		for _, c := range t.insert.ChildrenOf(v) {
			cp := t.points.At(t.insert.PointID(c))
			if t.metric.Distance(q, cp) <= r+t.insert.Radius(c) {
				visit(c)
			}
		}
	}
	visit(0)
	return hits
}

// IsCorrect checks the tree against spec §8's invariants, in the order
// spec §8 lists them: every vertex's point lies within its parent's cover
// radius, siblings committed by the same hub are separated by more than
// split_ratio times the radius they were admitted against, and every point
// appears in at least one leaf. Returns the first violation found, wrapped
// as a *LogicError, or nil if none is found.
func (t *Tree) IsCorrect() error {
	nv := t.insert.NumVertices()
	if nv == 0 {
		return nil
	}

	for v := 0; v < nv; v++ {
		parent := t.insert.ParentID(v)
		if parent == NoParent {
			continue
		}
		d := t.metric.Distance(t.points.At(t.insert.PointID(v)), t.points.At(t.insert.PointID(parent)))
		if d > t.insert.Radius(parent) {
			return &LogicError{
				Invariant: "covering",
				Msg:       fmt.Sprintf("vertex %d lies at distance %g from parent %d, beyond its cover radius %g", v, d, parent, t.insert.Radius(parent)),
			}
		}
	}

	for v := 0; v < nv; v++ {
		children := t.insert.ChildrenOf(v)
		for i := 1; i < len(children); i++ {
			ci := children[i]
			// A child never admitted against a split-ratio threshold (the
			// tree root, a hub's own reused seed, or a leaf added directly
			// by the min_hub_size shortcut or the duplicate-point shortcut)
			// keeps AddVertex's +Inf admit-radius default and has no
			// separation requirement to check.
			admitRadius := t.insert.AdmitRadius(ci)
			if math.IsInf(admitRadius, 1) {
				continue
			}
			ciCoords := t.points.At(t.insert.PointID(ci))
			threshold := t.splitRatio * admitRadius
			for j := 0; j < i; j++ {
				cj := children[j]
				d := t.metric.Distance(ciCoords, t.points.At(t.insert.PointID(cj)))
				if d <= threshold {
					return &LogicError{
						Invariant: "separation",
						Msg:       fmt.Sprintf("sibling %d lies at distance %g from earlier sibling %d, not beyond split_ratio*admit_radius %g", ci, d, cj, threshold),
					}
				}
			}
		}
	}

	seen := make([]bool, t.points.Len())
	for v := 0; v < nv; v++ {
		if len(t.insert.ChildrenOf(v)) == 0 {
			seen[t.insert.PointID(v)] = true
		}
	}
	for pid, ok := range seen {
		if !ok {
			return &LogicError{Invariant: "leaf_coverage", Msg: fmt.Sprintf("point %d appears in no leaf", pid)}
		}
	}

	return nil
}

// Build constructs a cover tree over points using metric, per the
// parallel hub-based algorithm of spec §4.4. logger may be nil (in which
// case nothing is logged).
func Build(points *PointSet, metric Metric, params Params, logger *zap.SugaredLogger) (*Tree, error) {
	applyParamDefaults(&params)
	if err := validateParams(&params); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	n := points.Len()
	tree := NewInsertTree(n)
	result := &Tree{insert: tree, points: points, metric: metric, splitRatio: params.SplitRatio}
	if n == 0 {
		return result, nil
	}

	allCandidates := make([]int, n)
	for i := range allCandidates {
		allCandidates[i] = i
	}
	root := newHub(NoParent, allCandidates)

	ctx := context.Background()
	var err error
	if params.LevelSynchronous {
		err = buildLevelSynchronous(ctx, tree, points, metric, params, root, logger)
	} else {
		err = buildTaskParallel(ctx, tree, points, metric, params, []*Hub{root})
	}
	if err != nil {
		return nil, err
	}

	logger.Debugw("cover tree constructed", "vertices", tree.NumVertices(), "levels", tree.NumLevels())
	return result, nil
}

// processHubToCompletion runs a hub through min_hub_size shortcut or
// Init/Step-loop/Split, returning the child hubs it spawned (if any).
func processHubToCompletion(tree *InsertTree, points *PointSet, metric Metric, params Params, h *Hub) ([]*Hub, error) {
	if h.CandidateCount() <= params.MinHubSize {
		h.resolveAsLeaves(tree, points, metric)
		return nil, nil
	}

	h.Init(tree, points, metric)
	for {
		committed, err := h.Step(tree, points, metric, params.SplitRatio, params.Workers)
		if err != nil {
			return nil, err
		}
		if !committed {
			break
		}
	}

	specs := h.Split(tree)
	children := make([]*Hub, len(specs))
	for i, s := range specs {
		children[i] = newHub(s.ParentVertex, s.CandidateIDs)
	}
	return children, nil
}

// buildLevelSynchronous drives level-synchronous (breadth-first) rounds
// across the tree's growing frontier of active hubs, switching to
// per-subtree task mode once the average candidate-set size over the
// current level's queue falls below params.SwitchSize (spec §4.4's
// "Mode-switch policy"). The two sentinel values spec §4.4 calls out are
// special-cased rather than run through that comparison: SwitchSize<=0
// dispatches task-parallel immediately, before any level-synchronous round
// runs at all ("the entire build is task-parallel from the start"); an
// infinite SwitchSize never switches ("fully level-synchronous").
func buildLevelSynchronous(ctx context.Context, tree *InsertTree, points *PointSet, metric Metric, params Params, root *Hub, logger *zap.SugaredLogger) error {
	if params.SwitchSize <= 0 {
		logger.Debugw("switch_size<=0, running fully task-parallel from the start")
		return buildTaskParallel(ctx, tree, points, metric, params, []*Hub{root})
	}

	queue := []*Hub{root}

	for len(queue) > 0 {
		if !math.IsInf(params.SwitchSize, 1) {
			avg := averageCandidateSize(queue)
			if avg < params.SwitchSize {
				logger.Debugw("switching to task-parallel mode", "avg_hub_size", avg, "switch_size", params.SwitchSize, "hubs", len(queue))
				return buildTaskParallel(ctx, tree, points, metric, params, queue)
			}
		}

		var toResolve, toRefine []*Hub
		for _, h := range queue {
			if h.CandidateCount() <= params.MinHubSize {
				toResolve = append(toResolve, h)
			} else {
				toRefine = append(toRefine, h)
			}
		}

		if err := advanceHubsParallel(ctx, toResolve, params.Workers, func(h *Hub) error {
			h.resolveAsLeaves(tree, points, metric)
			return nil
		}); err != nil {
			return err
		}

		if err := advanceHubsParallel(ctx, toRefine, params.Workers, func(h *Hub) error {
			h.Init(tree, points, metric)
			return nil
		}); err != nil {
			return err
		}

		active := toRefine
		for len(active) > 0 {
			stillActive, err := stepHubsParallel(ctx, tree, points, metric, params, active)
			if err != nil {
				return err
			}
			active = stillActive
		}

		var next []*Hub
		for _, h := range toRefine {
			specs := h.Split(tree)
			for _, s := range specs {
				next = append(next, newHub(s.ParentVertex, s.CandidateIDs))
			}
		}
		logger.Debugw("level-synchronous round complete", "resolved", len(toResolve), "refined", len(toRefine), "next_queue", len(next))
		queue = next
	}

	return nil
}

// stepHubsParallel runs Step once on every hub in hubs, in parallel, and
// returns the hubs that are still open (Step returned true) for the next
// round.
func stepHubsParallel(ctx context.Context, tree *InsertTree, points *PointSet, metric Metric, params Params, hubs []*Hub) ([]*Hub, error) {
	committed := make([]bool, len(hubs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(params.Workers, 1))
	for i, h := range hubs {
		i, h := i, h
		g.Go(func() error {
			c, err := h.Step(tree, points, metric, params.SplitRatio, params.Workers)
			committed[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var stillActive []*Hub
	for i, h := range hubs {
		if committed[i] {
			stillActive = append(stillActive, h)
		}
	}
	return stillActive, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// averageCandidateSize computes the mean candidate-set size over hubs
// using gonum/stat, the quantity the mode-switch policy (spec §4.4)
// compares against params.SwitchSize.
func averageCandidateSize(hubs []*Hub) float64 {
	if len(hubs) == 0 {
		return 0
	}
	sizes := make([]float64, len(hubs))
	for i, h := range hubs {
		sizes[i] = float64(h.CandidateCount())
	}
	return stat.Mean(sizes, nil)
}

// buildTaskParallel runs every hub in seeds, and every hub it recursively
// spawns, as an independent task with no inter-hub barrier (spec §4.4's
// "Per-subtree (task) mode"). Every seed runs on its own goroutine; the
// hubs a task spawns get a new goroutine only while a weighted semaphore
// sized to params.Workers has a free slot, and otherwise run inline on
// the spawning task's goroutine instead of blocking.
func buildTaskParallel(ctx context.Context, tree *InsertTree, points *PointSet, metric Metric, params Params, seeds []*Hub) error {
	sem := semaphore.NewWeighted(int64(maxInt(params.Workers, 1)))
	g, _ := errgroup.WithContext(ctx)

	var spawn func(h *Hub) error
	spawn = func(h *Hub) error {
		children, err := processHubToCompletion(tree, points, metric, params, h)
		if err != nil {
			return err
		}
		for _, c := range children {
			c := c
			if sem.TryAcquire(1) {
				g.Go(func() error {
					defer sem.Release(1)
					return spawn(c)
				})
			} else if err := spawn(c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, seed := range seeds {
		seed := seed
		g.Go(func() error { return spawn(seed) })
	}

	return g.Wait()
}
