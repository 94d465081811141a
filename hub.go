package covertree

// HubStatus is a hub's position in its refinement lifecycle (spec §3).
type HubStatus int

const (
	// HubOpen is refining: at least one more center may still be admitted.
	HubOpen HubStatus = iota
	// HubReadyToSplit has no remaining candidate beyond the admission
	// threshold; it is waiting to be split into child hubs and leaves.
	HubReadyToSplit
	// HubLeaf was small enough (spec §4.3's min_hub_size case) to skip
	// refinement and resolve directly into leaf children of its parent
	// vertex.
	HubLeaf
	// HubTerminated has been split; its candidates and centers are no
	// longer needed.
	HubTerminated
)

// center is a committed (point_id, vertex_id) pair: a candidate promoted to
// a tree vertex under the hub's parent vertex. centers[0] is always the
// hub's seed — for the root hub this is a newly created vertex (the tree
// root); for every other hub it is the vertex that the enclosing hub
// already created when it committed this hub's parent as one of its own
// centers, reused rather than duplicated.
type center struct {
	pointID  int
	vertexID int
}

// ChildSpec describes a hub to spawn after a split: candidateIDs[0] is
// always the center's own point id, guaranteed present by construction.
type ChildSpec struct {
	ParentVertex int
	CandidateIDs []int
}

// Hub is the working-set abstraction of spec §3/§4.3: a group of points
// currently being partitioned under a common set of centers.
type Hub struct {
	// parentVertex is the vertex every center this hub commits becomes a
	// child of. NoParent marks the not-yet-initialized root hub; Init
	// resolves it to the newly created root vertex's id.
	parentVertex int

	candidateIDs []int // point ids; candidateIDs[0] is always the seed
	centers      []center

	assignment   []int     // parallel to candidateIDs: index into centers
	distToCenter []float64 // parallel to candidateIDs: distance to assigned center

	activeRadius float64 // current max(distToCenter); monotonically non-increasing
	status       HubStatus
}

// newHub allocates a Hub over candidateIDs with no centers committed yet.
// candidateIDs[0] must be the point already represented by parentVertex,
// except for the root hub (parentVertex == NoParent), where it is the
// point chosen to become the tree root.
func newHub(parentVertex int, candidateIDs []int) *Hub {
	return &Hub{
		parentVertex: parentVertex,
		candidateIDs: candidateIDs,
		status:       HubOpen,
	}
}

// CandidateCount returns the number of points currently assigned to h,
// including the seed itself (spec §4.3's min_hub_size comparison is
// against this count).
func (h *Hub) CandidateCount() int { return len(h.candidateIDs) }

// Status returns h's current lifecycle state.
func (h *Hub) Status() HubStatus { return h.status }

// Init performs spec §4.3's "Initialize": candidateIDs[0] becomes center0.
// For the root hub this commits a brand-new tree vertex with no parent;
// for every other hub it reuses the existing vertex parentVertex already
// names (spec §3: "the vertices already committed as children of this
// hub's parent vertex — or, for the root hub, of the tree root itself").
//
// center0's cover radius is the maximum distance from it to any candidate,
// computed once here over the hub's full candidate set. For a brand-new
// vertex (the root hub) this is also the vertex's cover radius, recorded
// immediately because no enclosing hub exists to record it otherwise. For a
// reused vertex — every non-root hub's seed, already a child the enclosing
// hub committed — the enclosing hub already set its cover radius over its
// own, wider candidate set; this hub's own shrunken maxDist must not
// overwrite that, since the vertex may still have other children (siblings
// committed by the enclosing hub) that rely on the wider radius.
func (h *Hub) Init(tree *InsertTree, points *PointSet, metric Metric) {
	seedPointID := h.candidateIDs[0]

	newVertex := h.parentVertex == NoParent
	var vertexID int
	if newVertex {
		tree.Lock()
		vertexID = tree.AddVertex(seedPointID, NoParent, 0)
		tree.Unlock()
		h.parentVertex = vertexID
	} else {
		vertexID = h.parentVertex
	}

	h.centers = []center{{pointID: seedPointID, vertexID: vertexID}}
	h.assignment = make([]int, len(h.candidateIDs))
	h.distToCenter = make([]float64, len(h.candidateIDs))

	seedCoords := points.At(seedPointID)
	var maxDist float64
	for i, pid := range h.candidateIDs {
		d := metric.Distance(points.At(pid), seedCoords)
		h.distToCenter[i] = d
		if d > maxDist {
			maxDist = d
		}
	}
	h.activeRadius = maxDist
	if newVertex {
		tree.SetRadius(vertexID, maxDist)
	}
}

// farthest returns the index, within candidateIDs, of the candidate with
// the largest distToCenter, breaking ties by the lower point id (spec
// §4.3's tie-breaking rule).
func (h *Hub) farthest() int {
	best := 0
	for i := 1; i < len(h.candidateIDs); i++ {
		if h.distToCenter[i] > h.distToCenter[best] ||
			(h.distToCenter[i] == h.distToCenter[best] && h.candidateIDs[i] < h.candidateIDs[best]) {
			best = i
		}
	}
	return best
}

// Step performs one refinement round (spec §4.3's "Refinement step"): if
// the farthest candidate lies beyond splitRatio times the active radius
// carried in from the previous round (or from Init, for the first call),
// it is committed as a new center and every candidate strictly closer to
// it than to its current center is reassigned. Returns whether a center
// was committed; false means the hub's termination condition now holds and
// it is ready to split.
//
// Returns a *LogicError if active_radius would increase, per spec §7's
// assertion class — this can only happen from a bug in reassignment.
func (h *Hub) Step(tree *InsertTree, points *PointSet, metric Metric, splitRatio float64, workers int) (bool, error) {
	idx := h.farthest()
	threshold := splitRatio * h.activeRadius

	if h.distToCenter[idx] <= threshold {
		h.status = HubReadyToSplit
		return false, nil
	}

	newPointID := h.candidateIDs[idx]

	tree.Lock()
	newVertexID := tree.AddVertex(newPointID, h.parentVertex, 0)
	tree.SetAdmitRadius(newVertexID, h.activeRadius)
	tree.Unlock()

	newCenterIdx := len(h.centers)
	h.centers = append(h.centers, center{pointID: newPointID, vertexID: newVertexID})

	reassignCandidatesParallel(
		h.candidateIDs, points, metric, points.At(newPointID), newCenterIdx,
		h.assignment, h.distToCenter, workers,
	)

	var maxDist float64
	for _, d := range h.distToCenter {
		if d > maxDist {
			maxDist = d
		}
	}
	if maxDist > h.activeRadius {
		return true, &LogicError{Invariant: "active_radius_non_increasing", Msg: "active_radius increased after reassignment"}
	}
	h.activeRadius = maxDist

	return true, nil
}

// Split groups candidates by their final assignment (spec §4.3's
// "Termination of refinement"). A center with at least one other assigned
// candidate besides itself spawns a ChildSpec; its cover radius (for
// centers other than center0, whose radius was already fixed by Init for
// the root hub or by the enclosing hub's Split otherwise) is the
// maximum distance among its finally-assigned group, recorded here because
// it equals what that center's own future hub would compute at Init over
// the identical set. A center with only itself assigned becomes a leaf:
// no ChildSpec, cover radius 0 (already the zero value set at commit
// time). A center whose entire group sits at distance 0 from it (exact
// duplicate points) is committed as direct leaves right here instead of
// spawning a ChildSpec: a future hub over that same group, re-anchored at
// the same center, would recompute the identical zero distances and the
// identical termination, splitting it again forever. The center's own
// point is duplicated as one of those leaves too (mirroring
// resolveAsLeaves), since this branch — like that one — resolves the
// group directly into leaves rather than handing it to a further hub, and
// the center's existing vertex may already have other children from this
// hub's own centers. Marks the hub terminated.
func (h *Hub) Split(tree *InsertTree) []ChildSpec {
	groups := make([][]int, len(h.centers))
	maxDist := make([]float64, len(h.centers))

	for i, pid := range h.candidateIDs {
		c := h.assignment[i]
		groups[c] = append(groups[c], pid)
		if h.distToCenter[i] > maxDist[c] {
			maxDist[c] = h.distToCenter[i]
		}
	}

	var children []ChildSpec
	for i, grp := range groups {
		if len(grp) < 2 {
			continue
		}
		if i > 0 {
			tree.Lock()
			tree.SetRadius(h.centers[i].vertexID, maxDist[i])
			tree.Unlock()
		}
		if maxDist[i] == 0 {
			tree.Lock()
			for _, pid := range grp {
				tree.AddVertex(pid, h.centers[i].vertexID, 0)
			}
			tree.Unlock()
			continue
		}
		children = append(children, ChildSpec{
			ParentVertex: h.centers[i].vertexID,
			CandidateIDs: seedFirst(grp, h.centers[i].pointID),
		})
	}

	h.status = HubTerminated
	h.candidateIDs = nil
	h.assignment = nil
	h.distToCenter = nil

	return children
}

// seedFirst returns grp reordered so seedPointID is first, preserving the
// relative order of the rest. Guarantees the next hub's candidateIDs[0]
// convention holds regardless of grp's original append order.
func seedFirst(grp []int, seedPointID int) []int {
	out := make([]int, len(grp))
	out[0] = seedPointID
	i := 1
	for _, pid := range grp {
		if pid == seedPointID {
			continue
		}
		out[i] = pid
		i++
	}
	return out
}

// resolveAsLeaves implements spec §4.3's min_hub_size shortcut: skip all
// refinement and commit every candidate as a direct leaf child of the
// hub's vertex, with cover radius 0. The seed's own point
// (candidateIDs[0]) is committed as a leaf too, not just left represented
// by the hub's vertex itself: once that vertex gains any other leaf child
// it stops being a leaf by Tree.IsCorrect's own definition, and the seed's
// point would then appear in no leaf at all. When the seed is the only
// candidate, no leaf is added: the hub's vertex gains no children and is
// itself the leaf. The hub's vertex's cover
// radius is only set here when it was newly created for this hub (the
// root hub); a reused vertex's radius was already set, over a wider
// candidate set, by the enclosing hub that committed it.
func (h *Hub) resolveAsLeaves(tree *InsertTree, points *PointSet, metric Metric) {
	seedPointID := h.candidateIDs[0]

	tree.Lock()
	newVertex := h.parentVertex == NoParent
	var vertexID int
	if newVertex {
		vertexID = tree.AddVertex(seedPointID, NoParent, 0)
		h.parentVertex = vertexID
	} else {
		vertexID = h.parentVertex
	}

	seedCoords := points.At(seedPointID)
	var maxDist float64
	for _, pid := range h.candidateIDs[1:] {
		if d := metric.Distance(points.At(pid), seedCoords); d > maxDist {
			maxDist = d
		}
		tree.AddVertex(pid, vertexID, 0)
	}
	if len(h.candidateIDs) > 1 {
		tree.AddVertex(seedPointID, vertexID, 0)
	}
	if newVertex {
		tree.SetRadius(vertexID, maxDist)
	}
	tree.Unlock()

	h.status = HubLeaf
	h.candidateIDs = nil
}
