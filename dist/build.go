package dist

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/parhub/covertree"
)

// DistParams controls the distributed build (spec §4.5). SwitchPercent is
// a different quantity from the shared-memory builder's SwitchSize: it is
// a percentage of totsize (the global point count), not an absolute
// average hub size (SPEC_FULL §4.5's resolution of the spec's second Open
// Question — the two are kept distinct, matching the original driver's
// separate globals under the same flag letter).
type DistParams struct {
	SplitRatio    float64
	SwitchPercent float64
	MinHubSize    int
	Verbose       bool
}

// DefaultDistParams mirrors main_mpi.cpp's globals.
func DefaultDistParams() DistParams {
	return DistParams{SplitRatio: 0.5, SwitchPercent: 100, MinHubSize: 10}
}

func validateDistParams(p *DistParams) error {
	if p.SplitRatio <= 0 || p.SplitRatio > 1 {
		return &covertree.ParameterError{Msg: "SplitRatio must be in (0, 1]"}
	}
	if p.MinHubSize < 1 {
		return &covertree.ParameterError{Msg: "MinHubSize must be >= 1"}
	}
	if p.SwitchPercent < 0 || p.SwitchPercent > 100 {
		return &covertree.ParameterError{Msg: "SwitchPercent must be in [0, 100]"}
	}
	return nil
}

// BalancedCounts returns n per-rank counts summing to total, each within
// one of every other — get_balanced_counts from main_mpi.cpp: the first
// total%n ranks get one extra point.
func BalancedCounts(total, n int) []int {
	counts := make([]int, n)
	base := total / n
	rem := total % n
	for r := 0; r < n; r++ {
		counts[r] = base
		if r < rem {
			counts[r]++
		}
	}
	return counts
}

// ScatterPoints distributes points from rank root to every rank, sized per
// counts (as returned by BalancedCounts), over Transport.Scatter —
// main_mpi.cpp's comm.scatterv. Every rank, including root, must call this
// with the same root and counts; only root's points argument is read.
func ScatterPoints(t Transport, root int, points *covertree.PointSet, counts []int, dims int) *covertree.PointSet {
	var chunks [][]byte
	if t.Rank() == root {
		chunks = make([][]byte, len(counts))
		offset := 0
		for r, c := range counts {
			var buf []byte
			for i := offset; i < offset+c; i++ {
				buf = points.MarshalPoint(i, buf)
			}
			chunks[r] = buf
			offset += c
		}
	}

	buf := t.Scatter(root, chunks)
	decoder := covertree.NewPointSet(nil, 0, dims)
	var data []float64
	for len(buf) > 0 {
		var coords []float64
		var err error
		coords, buf, err = decoder.UnmarshalPoint(buf)
		if err != nil {
			break
		}
		data = append(data, coords...)
	}
	return covertree.NewPointSet(data, len(data)/dims, dims)
}

// repCenter is a Phase A center replicated identically across every rank:
// its coordinates (needed for every rank's local distance computations)
// and the global vertex id the replicated insert-tree assigned it.
type repCenter struct {
	coords   []float64
	vertexID int
}

// repHub is one node of the Phase A replicated top tree: a hub whose
// candidate set is split across ranks, with centers and active_radius
// replicated identically everywhere by construction (every rank runs the
// same deterministic sequence of collective decisions).
type repHub struct {
	parentVertex int
	localCands   []int // indices into this rank's local PointSet
	seedCoords   []float64
	centers      []repCenter
	assignment   []int
	distToCenter []float64
	activeRadius float64
	globalSize   int // total candidate count across all ranks
}

// repChildSpec is a repHub's spawned child: either another Phase A hub (if
// still large enough to warrant continued replication) or the seed for a
// Phase B ghosted subtree, decided by the caller against SwitchPercent.
// seedCoords carries forward the parent hub's already-replicated center
// coordinates, so the child hub needs no extra broadcast to learn its own
// seed.
type repChildSpec struct {
	parentVertex int
	localCands   []int
	seedCoords   []float64
	globalSize   int
}

// phaseASeedOwner is the rank whose local shard contributes the root hub's
// seed center (every other hub's seed is its parent's replicated center). Rank 0 always holds at least one point whenever totalSize
// > 0, since BalancedCounts gives every rank under totalSize points at
// most one fewer than rank 0.
const phaseASeedOwner = 0

// Build runs the two-phase distributed build (spec §4.5) and, on success,
// returns the resulting tree replicated identically on every rank: every
// rank needs the full tree to answer radius queries for its own owned
// points (spec §4.5's "Radius graph under distribution"). localPoints
// holds this rank's point partition; globalOffset is this rank's starting
// global point id (see Transport.Exscan). totalSize is the global point
// count.
func Build(t Transport, localPoints *covertree.PointSet, globalOffset, totalSize int, metric covertree.Metric, params DistParams, logger *zap.SugaredLogger) (*covertree.Tree, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDistParams(&params); err != nil {
		return nil, err
	}

	tree := covertree.NewInsertTree(totalSize)
	if totalSize == 0 {
		return covertree.NewTree(tree, localPoints, metric, params.SplitRatio), nil
	}

	allLocal := make([]int, localPoints.Len())
	for i := range allLocal {
		allLocal[i] = i
	}
	root := &repHub{parentVertex: covertree.NoParent, localCands: allLocal, globalSize: totalSize}

	queue := []*repHub{root}
	for len(queue) > 0 {
		var toGhost, toRefine []*repHub
		for _, h := range queue {
			if percentOf(h.globalSize, totalSize) > params.SwitchPercent && h.globalSize > params.MinHubSize {
				toRefine = append(toRefine, h)
			} else {
				toGhost = append(toGhost, h)
			}
		}

		for i, h := range toGhost {
			if err := resolveGhost(t, tree, localPoints, globalOffset, metric, h, i, params, logger); err != nil {
				return nil, err
			}
		}

		var next []*repHub
		for _, h := range toRefine {
			specs, err := refineReplicated(t, tree, localPoints, globalOffset, metric, h, params.SplitRatio)
			if err != nil {
				return nil, err
			}
			for _, s := range specs {
				next = append(next, &repHub{parentVertex: s.parentVertex, localCands: s.localCands, seedCoords: s.seedCoords, globalSize: s.globalSize})
			}
		}
		queue = next

		if logger != nil {
			logger.Debugw("phase A round complete", "ghosted", len(toGhost), "refined", len(toRefine), "next_queue", len(next))
		}
	}

	// Vertices carry global point ids, so every rank's Tree holds every
	// rank's points, gathered in rank (global id) order.
	var mine []byte
	for i := 0; i < localPoints.Len(); i++ {
		mine = localPoints.MarshalPoint(i, mine)
	}
	all := t.Broadcast(0, t.Gather(0, mine))
	decoder := covertree.NewPointSet(nil, 0, localPoints.Dims())
	var data []float64
	for len(all) > 0 {
		coords, rest, err := decoder.UnmarshalPoint(all)
		if err != nil {
			return nil, err
		}
		data = append(data, coords...)
		all = rest
	}
	return covertree.NewTree(tree, covertree.NewPointSet(data, totalSize, localPoints.Dims()), metric, params.SplitRatio), nil
}

func percentOf(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(part) / float64(total)
}

// refineReplicated runs repHub h's Phase A refinement loop to termination
// and returns the child hub specs (one per center that attracted more
// than itself across all ranks combined), splitting its finally-assigned
// candidates the same way the shared-memory Hub.Split does.
func refineReplicated(t Transport, tree *covertree.InsertTree, points *covertree.PointSet, globalOffset int, metric covertree.Metric, h *repHub, splitRatio float64) ([]repChildSpec, error) {
	newVertex := h.parentVertex == covertree.NoParent
	var vertexID int
	if newVertex {
		seedCoords := broadcastOwned(t, points, h.localCands, phaseASeedOwner, 0)
		seedGlobalID := broadcastOwnedID(t, h.localCands, globalOffset, phaseASeedOwner, 0)
		vertexID = tree.AddVertex(seedGlobalID, covertree.NoParent, 0)
		h.centers = []repCenter{{coords: seedCoords, vertexID: vertexID}}
	} else {
		vertexID = h.parentVertex
		h.centers = []repCenter{{coords: h.seedCoords, vertexID: vertexID}}
	}

	h.assignment = make([]int, len(h.localCands))
	h.distToCenter = make([]float64, len(h.localCands))
	for i, li := range h.localCands {
		h.distToCenter[i] = metric.Distance(points.At(li), h.centers[0].coords)
	}
	// initRadius bounds the distance from the seed to every candidate of
	// this hub. A reused vertexID that is its enclosing hub's own seed
	// already has a radius at least this large, set over a wider candidate
	// set, and keeps it; any other vertex (the root, or a non-seed center
	// that splitReplicated left at radius 0) takes initRadius.
	_, _, initRadius := localReduceFarthest(t, h, globalOffset)
	h.activeRadius = initRadius
	if newVertex || initRadius > tree.Radius(vertexID) {
		tree.SetRadius(vertexID, initRadius)
	}

	for {
		winnerRank, winnerLocalIdx, winnerDist := localReduceFarthest(t, h, globalOffset)
		threshold := splitRatio * h.activeRadius
		if winnerDist <= threshold {
			break
		}

		newCoords := broadcastOwned(t, points, h.localCands, winnerRank, winnerLocalIdx)
		newGlobalID := broadcastOwnedID(t, h.localCands, globalOffset, winnerRank, winnerLocalIdx)

		newVertexID := tree.AddVertex(newGlobalID, vertexID, 0)
		tree.SetAdmitRadius(newVertexID, h.activeRadius)
		newIdx := len(h.centers)
		h.centers = append(h.centers, repCenter{coords: newCoords, vertexID: newVertexID})

		for i, li := range h.localCands {
			d := metric.Distance(points.At(li), newCoords)
			if d < h.distToCenter[i] {
				h.distToCenter[i] = d
				h.assignment[i] = newIdx
			}
		}

		_, _, maxDist := localReduceFarthest(t, h, globalOffset)
		if maxDist > h.activeRadius {
			return nil, &covertree.LogicError{Invariant: "active_radius_non_increasing", Msg: "active_radius increased in phase A"}
		}
		h.activeRadius = maxDist
	}

	return splitReplicated(t, points, h)
}

// broadcastOwned returns the coordinates of localCands[localIdx] on rank
// owner, broadcast to every rank. Ranks other than owner pass localIdx
// unused (owner alone indexes into its own localCands/points).
func broadcastOwned(t Transport, points *covertree.PointSet, localCands []int, owner, localIdx int) []float64 {
	var payload []byte
	if t.Rank() == owner {
		payload = encodeFloatsPrefixed(points.At(localCands[localIdx]))
	}
	coords, _ := decodeFloatsPrefixed(t.Broadcast(owner, payload))
	return coords
}

func broadcastOwnedID(t Transport, localCands []int, globalOffset, owner, localIdx int) int {
	var payload []byte
	if t.Rank() == owner {
		payload = encodeInt(globalOffset + localCands[localIdx])
	}
	return decodeInt(t.Broadcast(owner, payload))
}

// localReduceFarthest finds this rank's locally farthest candidate (tying
// lower global point id wins, via ReduceFarthest's own tie-break) and
// reduces across ranks. Returns the winning rank, that candidate's local
// index on its own rank (meaningless on every other rank), and the global
// farthest distance.
func localReduceFarthest(t Transport, h *repHub, globalOffset int) (int, int, float64) {
	if len(h.distToCenter) == 0 {
		return t.ReduceFarthest(-1, -1)
	}
	best := 0
	for i := 1; i < len(h.distToCenter); i++ {
		if h.distToCenter[i] > h.distToCenter[best] ||
			(h.distToCenter[i] == h.distToCenter[best] && h.localCands[i] < h.localCands[best]) {
			best = i
		}
	}
	globalPointID := globalOffset + h.localCands[best]
	winnerRank, _, winnerDist := t.ReduceFarthest(globalPointID, h.distToCenter[best])

	winnerLocalIdx := -1
	if t.Rank() == winnerRank {
		winnerLocalIdx = best
	}
	return winnerRank, winnerLocalIdx, winnerDist
}

// splitReplicated groups h's locally-held candidates by final assignment,
// exchanges per-center group sizes across ranks so every rank learns the
// global size of every resulting child, and returns one repChildSpec per
// center that attracted more than itself anywhere.
func splitReplicated(t Transport, points *covertree.PointSet, h *repHub) ([]repChildSpec, error) {
	groups := make([][]int, len(h.centers))
	for i, li := range h.localCands {
		c := h.assignment[i]
		groups[c] = append(groups[c], li)
	}

	var sizes []byte
	for _, g := range groups {
		sizes = encodeInt64Append(sizes, len(g))
	}
	gathered := t.Gather(0, sizes)

	globalSizes := make([]int, len(h.centers))
	if t.Rank() == 0 {
		perRank := decodeInt64Slice(gathered, len(h.centers))
		for _, group := range perRank {
			for c, n := range group {
				globalSizes[c] += n
			}
		}
	}
	var globalSizesBuf []byte
	for _, s := range globalSizes {
		globalSizesBuf = encodeInt64Append(globalSizesBuf, s)
	}
	globalSizesBuf = t.Broadcast(0, globalSizesBuf)
	globalSizes, _ = decodeInt64SlicePrefix(globalSizesBuf, len(h.centers))

	var children []repChildSpec
	for i, g := range groups {
		if globalSizes[i] < 2 {
			continue
		}
		children = append(children, repChildSpec{
			parentVertex: h.centers[i].vertexID,
			localCands:   g,
			seedCoords:   h.centers[i].coords,
			globalSize:   globalSizes[i],
		})
	}
	return children, nil
}

func decodeInt64SlicePrefix(buf []byte, width int) ([]int, []byte) {
	out := make([]int, width)
	for i := 0; i < width; i++ {
		out[i], buf = decodeInt64(buf)
	}
	return out, buf
}

// resolveGhost ships h's full candidate set (global ids and coordinates)
// to a single owner rank chosen by round-robin balanced assignment among
// this round's ghosted hubs, builds the subtree locally there with the
// shared-memory builder, then broadcasts the resulting vertex metadata so
// every rank can graft it into its own tree replica.
func resolveGhost(t Transport, tree *covertree.InsertTree, points *covertree.PointSet, globalOffset int, metric covertree.Metric, h *repHub, roundIdx int, params DistParams, logger *zap.SugaredLogger) error {
	owner := roundIdx % t.Size()

	var payload []byte
	payload = encodeInt64Append(payload, len(h.localCands))
	for _, li := range h.localCands {
		payload = encodeInt64Append(payload, globalOffset+li)
		payload = append(payload, encodeFloatsPrefixed(points.At(li))...)
	}

	gathered := t.Gather(owner, payload)

	var vertices []covertree.Vertex
	var buildErr error
	if t.Rank() == owner {
		globalIDs, coords := decodeGhostPayload(gathered, points.Dims())
		// Put the hub's seed (the point parentVertex represents) first, so
		// the ghosted subtree's root is that same point.
		if h.seedCoords != nil {
			dims := points.Dims()
			for i := range globalIDs {
				if metric.Distance(coords[i*dims:(i+1)*dims], h.seedCoords) == 0 {
					globalIDs[0], globalIDs[i] = globalIDs[i], globalIDs[0]
					for j := 0; j < dims; j++ {
						coords[j], coords[i*dims+j] = coords[i*dims+j], coords[j]
					}
					break
				}
			}
		}
		ghostPoints := covertree.NewPointSet(coords, len(globalIDs), points.Dims())
		var ghostTree *covertree.Tree
		ghostTree, buildErr = covertree.Build(ghostPoints, metric, covertree.Params{
			SplitRatio: params.SplitRatio, MinHubSize: params.MinHubSize, LevelSynchronous: true, Workers: 1,
		}, logger)
		if buildErr == nil {
			vertices = exportVertices(ghostTree, globalIDs)
		}
	}
	if err := broadcastError(t, owner, buildErr); err != nil {
		return err
	}

	vertices = broadcastVertices(t, owner, vertices)
	graftVertices(tree, h.parentVertex, vertices)
	return nil
}

// broadcastError turns owner's build error (nil or not) into a 1-byte
// broadcast flag so every rank learns whether to abort consistently.
func broadcastError(t Transport, owner int, err error) error {
	var payload []byte
	if t.Rank() == owner {
		if err != nil {
			payload = []byte{1}
		} else {
			payload = []byte{0}
		}
	}
	result := t.Broadcast(owner, payload)
	if len(result) == 1 && result[0] == 1 {
		return &covertree.ResourceError{Op: "phase B ghosted subtree build", Err: fmt.Errorf("owner rank %d failed", owner)}
	}
	return nil
}

func exportVertices(tree *covertree.Tree, globalIDs []int) []covertree.Vertex {
	ins := tree.Insert()
	n := ins.NumVertices()
	out := make([]covertree.Vertex, n)
	for id := 0; id < n; id++ {
		out[id] = covertree.Vertex{
			ID:       id,
			ParentID: ins.ParentID(id),
			Level:    ins.Level(id),
			PointID:  globalIDs[ins.PointID(id)],
			Radius:   ins.Radius(id),
		}
	}
	return out
}

// graftVertices appends a ghosted subtree's vertices into tree, skipping
// its local root (already represented by parentVertex, the center vertex
// Phase A committed for this hub) and translating every other vertex's
// parent from the subtree's own local numbering to tree's global ids.
// parentVertex's radius is raised to the subtree root's radius, never
// lowered. When parentVertex is NoParent (the root hub was ghosted), the
// subtree's root is appended as the tree root instead.
func graftVertices(tree *covertree.InsertTree, parentVertex int, vertices []covertree.Vertex) {
	if len(vertices) == 0 {
		return
	}
	idMap := make([]int, len(vertices))
	if parentVertex == covertree.NoParent {
		idMap[0] = tree.AddVertex(vertices[0].PointID, covertree.NoParent, vertices[0].Radius)
	} else {
		idMap[0] = parentVertex
		if vertices[0].Radius > tree.Radius(parentVertex) {
			tree.SetRadius(parentVertex, vertices[0].Radius)
		}
	}

	for _, v := range vertices[1:] {
		parent := idMap[v.ParentID]
		newID := tree.AddVertex(v.PointID, parent, v.Radius)
		idMap[v.ID] = newID
	}
}

func broadcastVertices(t Transport, owner int, vertices []covertree.Vertex) []covertree.Vertex {
	var buf []byte
	if t.Rank() == owner {
		buf = encodeInt64Append(buf, len(vertices))
		for _, v := range vertices {
			buf = encodeInt64Append(buf, v.ID)
			buf = encodeInt64Append(buf, v.ParentID)
			buf = encodeInt64Append(buf, v.Level)
			buf = encodeInt64Append(buf, v.PointID)
			buf = encodeFloat64Append(buf, v.Radius)
		}
	}
	buf = t.Broadcast(owner, buf)
	return decodeVertices(buf)
}

func decodeVertices(buf []byte) []covertree.Vertex {
	if len(buf) == 0 {
		return nil
	}
	n, rest := decodeInt64(buf)
	out := make([]covertree.Vertex, n)
	for i := 0; i < n; i++ {
		var id, parent, level, point int
		var radius float64
		id, rest = decodeInt64(rest)
		parent, rest = decodeInt64(rest)
		level, rest = decodeInt64(rest)
		point, rest = decodeInt64(rest)
		radius, rest = decodeFloat64(rest)
		out[i] = covertree.Vertex{ID: id, ParentID: parent, Level: level, PointID: point, Radius: radius}
	}
	return out
}

func decodeGhostPayload(buf []byte, dims int) (globalIDs []int, coords []float64) {
	for len(buf) > 0 {
		var count int
		count, buf = decodeInt64(buf)
		for i := 0; i < count; i++ {
			var gid int
			gid, buf = decodeInt64(buf)
			var pt []float64
			pt, buf = decodeFloatsPrefixed(buf)
			globalIDs = append(globalIDs, gid)
			coords = append(coords, pt...)
		}
	}
	return
}

// BuildEpsilonGraph queries every locally owned point against the full
// (replicated) tree, per spec §4.5's "Radius graph under distribution",
// and returns the local adjacency lists. Callers translate local index i
// to its global id via globalOffset+i before emitting edges.
func BuildEpsilonGraph(tree *covertree.Tree, localPoints *covertree.PointSet, radius float64) [][]int {
	graph := make([][]int, localPoints.Len())
	for i := 0; i < localPoints.Len(); i++ {
		graph[i] = tree.RadiusQuery(localPoints.At(i), radius)
	}
	return graph
}

// EmitEdges formats graph (indexed by local point index) as "src dst\n"
// lines using global ids, translating local index i via globalOffset+i.
func EmitEdges(graph [][]int, globalOffset int) []byte {
	var buf []byte
	for i, dsts := range graph {
		for _, j := range dsts {
			buf = append(buf, []byte(fmt.Sprintf("%d %d\n", i+globalOffset, j))...)
		}
	}
	return buf
}
