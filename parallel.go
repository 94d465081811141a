package covertree

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// reassignCandidatesParallel scans every candidate in range against a newly
// committed center and, for any candidate strictly closer to it than to its
// current nearest center, updates assignment and distToCenter in place.
//
// candidates are split into contiguous, non-overlapping index ranges across
// workers; since ranges never overlap, no synchronization is needed for the
// writes into assignment/distToCenter, matching the row-range partitioning
// the shared-memory builder's distance-matrix computation uses elsewhere in
// this codebase's lineage. Falls back to a single-threaded scan if workers
// <= 1 or there are too few candidates to bother splitting.
func reassignCandidatesParallel(
	candidateIDs []int,
	points *PointSet,
	metric Metric,
	newCenterCoords []float64,
	newCenterIdx int,
	assignment []int,
	distToCenter []float64,
	workers int,
) {
	n := len(candidateIDs)
	if workers <= 1 || n <= 1 {
		reassignCandidatesRange(0, n, candidateIDs, points, metric, newCenterCoords, newCenterIdx, assignment, distToCenter)
		return
	}

	var wg sync.WaitGroup
	rowsPerWorker := (n + workers - 1) / workers

	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > n {
			end = n
		}
		if start >= n {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			reassignCandidatesRange(start, end, candidateIDs, points, metric, newCenterCoords, newCenterIdx, assignment, distToCenter)
		}(start, end)
	}

	wg.Wait()
}

func reassignCandidatesRange(
	start, end int,
	candidateIDs []int,
	points *PointSet,
	metric Metric,
	newCenterCoords []float64,
	newCenterIdx int,
	assignment []int,
	distToCenter []float64,
) {
	for j := start; j < end; j++ {
		d := metric.Distance(points.At(candidateIDs[j]), newCenterCoords)
		if d < distToCenter[j] {
			distToCenter[j] = d
			assignment[j] = newCenterIdx
		}
	}
}

// advanceHubsParallel runs step on every hub in hubs concurrently, across at
// most workers goroutines, and returns the first error encountered (if
// any). Used by the level-synchronous round: every active hub performs one
// add-center step in parallel, then the round barriers here before the
// caller inspects termination.
//
// Uses errgroup so the first error returned by step is the one returned
// here; the hubs are not cancelled, and every hub's step runs before the
// call returns.
func advanceHubsParallel(ctx context.Context, hubs []*Hub, workers int, step func(*Hub) error) error {
	if workers <= 1 || len(hubs) <= 1 {
		for _, h := range hubs {
			if err := step(h); err != nil {
				return err
			}
		}
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, h := range hubs {
		h := h
		g.Go(func() error { return step(h) })
	}

	return g.Wait()
}
