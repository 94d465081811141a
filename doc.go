// Package covertree implements a parallel hub-based cover tree over points
// in a metric space and uses it to answer fixed-radius neighbor queries (the
// "epsilon graph": for every point, every other point within distance r).
//
// Construction proceeds by repeatedly refining hubs — working sets of
// candidate points under a shared parent vertex — until every point has
// settled under some committed center. Two parallelism modes are available:
// level-synchronous (data-parallel across hubs of the same level, barriered
// between rounds) and per-subtree task mode (each hub runs to completion
// independently). Build picks between them using the switch-size policy; see
// [Params.SwitchSize].
//
// Basic usage:
//
//	pts := covertree.NewPointSet(flatData, n, dims)
//	params := covertree.DefaultParams()
//	tree, err := covertree.Build(pts, covertree.EuclideanMetric{}, params, nil)
//	// tree.RadiusQuery(q, r) returns every point id within r of q.
//
// For points already partitioned across ranks, see the dist subpackage.
package covertree
