// Command covertree builds a cover tree over a binary point file and
// optionally an epsilon graph over the result, matching the shared-memory
// driver's flag surface.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"

	"github.com/parhub/covertree"
)

func main() {
	fs := pflag.NewFlagSet("covertree", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <filename>\n", os.Args[0])
		fmt.Fprint(os.Stderr, fs.FlagUsages())
	}

	radius := fs.Float64P("radius", "r", 0, "graph radius; >0 enables graph phase")
	splitRatio := fs.Float64P("split-ratio", "S", 0.5, "hub split ratio")
	switchSize := fs.Float64P("switch-size", "s", 0, "switch-size threshold (avg hub size)")
	minHubSize := fs.IntP("min-hub-size", "l", 10, "minimum hub size")
	threads := fs.IntP("threads", "t", 1, "thread count")
	outFile := fs.StringP("output", "o", "", "output tree filename")
	asyncMode := fs.BoolP("async", "A", false, "disable level-synchronous mode (full task mode)")
	verifyTree := fs.BoolP("verify-tree", "T", false, "verify tree correctness")
	verifyGraph := fs.BoolP("verify-graph", "G", false, "verify graph correctness (brute force)")
	verbose := fs.BoolP("verbose", "v", false, "verbose")
	help := fs.BoolP("help", "h", false, "help message")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fs.Usage()
		os.Exit(1)
	}
	if *help {
		fs.Usage()
		os.Exit(0)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "[err::main] missing argument(s)")
		fs.Usage()
		os.Exit(1)
	}
	fname := fs.Arg(0)

	if *verifyGraph {
		if err := covertree.ValidateRadius(*radius); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := covertree.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	params := covertree.Params{
		SplitRatio:       *splitRatio,
		SwitchSize:       *switchSize,
		MinHubSize:       *minHubSize,
		LevelSynchronous: !*asyncMode,
		Workers:          *threads,
		Verbose:          *verbose,
	}
	if params.Workers <= 0 {
		params.Workers = runtime.NumCPU()
	}

	logger.Infow("point parameters", "file", fname, "fp", 64)
	logger.Infow("ctree parameters",
		"split_ratio", params.SplitRatio, "switch_size", params.SwitchSize,
		"min_hub_size", params.MinHubSize, "level_synch", params.LevelSynchronous, "verbose", params.Verbose)
	if *radius > 0 {
		logger.Infow("graph parameters", "radius", *radius, "verify_graph", *verifyGraph)
	}

	start := time.Now()
	points, err := covertree.ReadPointFile(fname)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Infow("read points", "n", points.Len(), "file", fname, "time", time.Since(start).Seconds())

	start = time.Now()
	tree, err := covertree.Build(points, covertree.EuclideanMetric{}, params, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Infow("constructed cover tree",
		"vertices", tree.NumVertices(), "levels", tree.NumLevels(),
		"avg_nesting", float64(tree.NumVertices())/float64(points.Len()), "time", time.Since(start).Seconds())

	if *verifyTree {
		start = time.Now()
		passed := tree.IsCorrect() == nil
		status := "PASSED"
		if !passed {
			status = "FAILED"
		}
		logger.Infow("cover tree verification", "result", status, "time", time.Since(start).Seconds())
	}

	if *radius > 0 {
		start = time.Now()
		graph := make([][]int, points.Len())
		numEdges := 0
		for id := 0; id < points.Len(); id++ {
			graph[id] = tree.RadiusQuery(points.At(id), *radius)
			numEdges += len(graph[id])
		}
		logger.Infow("constructed epsilon graph",
			"vertices", points.Len(), "edges", numEdges,
			"avg_deg", float64(numEdges)/float64(points.Len()), "time", time.Since(start).Seconds())

		if *verifyGraph {
			start = time.Now()
			correct := graphIsCorrect(points, *radius, graph)
			status := "PASSED"
			if !correct {
				status = "FAILED"
			}
			logger.Infow("epsilon graph verification", "result", status, "time", time.Since(start).Seconds())
		}

		if *outFile != "" {
			if err := writeEdgeList(*outFile, graph); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
	}
}

func graphIsCorrect(points *covertree.PointSet, radius float64, graph [][]int) bool {
	metric := covertree.EuclideanMetric{}
	n := points.Len()
	for i := 0; i < n; i++ {
		want := map[int]bool{}
		for j := 0; j < n; j++ {
			if metric.Distance(points.At(i), points.At(j)) <= radius {
				want[j] = true
			}
		}
		if len(want) != len(graph[i]) {
			return false
		}
		for _, j := range graph[i] {
			if !want[j] {
				return false
			}
		}
	}
	return true
}

func writeEdgeList(path string, graph [][]int) error {
	f, err := os.Create(path)
	if err != nil {
		return &covertree.ResourceError{Op: "create output tree file", Err: err}
	}
	defer f.Close()

	for src, dsts := range graph {
		for _, dst := range dsts {
			if _, err := fmt.Fprintf(f, "%d %d\n", src, dst); err != nil {
				return &covertree.ResourceError{Op: "write output tree file", Err: err}
			}
		}
	}
	return nil
}
