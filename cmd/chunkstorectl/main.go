// Package main implements chunkstorectl, a CLI exercising pkg/chunkstore,
// pkg/query, pkg/lineage, and pkg/histogram directly against an in-process
// store built from synthetic rows — grounded on cmd/bee/main.go's
// arg-switch dispatch (one function per subcommand, os.Exit(1) plus
// fmt.Fprintf(os.Stderr, ...) on error).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rerun-io/rerun-sub005/pkg/chunk"
	"github.com/rerun-io/rerun-sub005/pkg/chunkid"
	"github.com/rerun-io/rerun-sub005/pkg/chunkstore"
	"github.com/rerun-io/rerun-sub005/pkg/component"
	"github.com/rerun-io/rerun-sub005/pkg/entitypath"
	"github.com/rerun-io/rerun-sub005/pkg/histogram"
	"github.com/rerun-io/rerun-sub005/pkg/query"
	"github.com/rerun-io/rerun-sub005/pkg/timeline"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "insert":
		if err := insertCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "query":
		if err := queryCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "gc":
		if err := gcCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "lineage":
		if err := lineageCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "histogram":
		if err := histogramCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// demoStore builds a small store with a handful of temporal chunks on
// entity path "/demo/points", timeline "frame", component "Points3D:count",
// rowsPerChunk rows per chunk, each holding its frame number as a decimal
// string cell — a
// fixture standing in for a real ingestion pipeline, which is out of scope
// for a command-line smoke-test tool.
func demoStore(numChunks, rowsPerChunk int) (*chunkstore.Store, []chunkid.ChunkId, error) {
	store := chunkstore.New("demo", chunkstore.AllDisabledConfig())
	if err := store.RegisterTimelineType("frame", timeline.Sequence); err != nil {
		return nil, nil, err
	}

	ep := entitypath.New("/demo/points")
	desc := component.New("Points3D:count")
	chunkIDs := chunkid.NewGenerator()
	rowIDs := chunkid.NewRowGenerator()
	ids := make([]chunkid.ChunkId, 0, numChunks)

	for i := 0; i < numChunks; i++ {
		id := chunkIDs.Next()
		b := chunk.NewBuilder(id, ep)
		for j := 0; j < rowsPerChunk; j++ {
			frame := timeline.Int(i*rowsPerChunk + j)
			b.AddRow(rowIDs.Next(),
				map[timeline.Name]timeline.Int{"frame": frame},
				map[component.Descriptor]chunk.Cell{desc: []byte(strconv.Itoa(int(frame)))},
			)
		}
		c, err := b.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("building demo chunk %d: %w", i, err)
		}
		if _, err := store.InsertChunk(c); err != nil {
			return nil, nil, fmt.Errorf("inserting demo chunk %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return store, ids, nil
}

func insertCommand(args []string) error {
	numChunks, rowsPerChunk := 4, 8
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad chunk count %q: %w", args[0], err)
		}
		numChunks = n
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad rows-per-chunk %q: %w", args[1], err)
		}
		rowsPerChunk = n
	}

	store, _, err := demoStore(numChunks, rowsPerChunk)
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d chunks (%d rows each) into store %q: %d total chunks, %d bytes\n",
		numChunks, rowsPerChunk, store.ID(), store.NumChunks(), store.TotalSizeBytes())
	return nil
}

func queryCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chunkstorectl query <at-frame>")
	}
	at, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad frame %q: %w", args[0], err)
	}

	store, _, err := demoStore(4, 8)
	if err != nil {
		return err
	}
	adapter := chunkstore.NewAdapter(store)
	ep := entitypath.New("/demo/points")
	desc := component.New("Points3D:count")

	chunks := query.LatestAtRelevantChunks(adapter, query.LatestAtQuery{Timeline: "frame", At: timeline.Int(at)}, ep, desc)
	fmt.Printf("latest-at frame=%d: %d relevant chunk(s)\n", at, len(chunks))
	for _, c := range chunks {
		fmt.Printf("  chunk %s: rows=%d\n", c.ID(), c.NumRows())
	}
	return nil
}

func gcCommand(args []string) error {
	fraction := 0.5
	if len(args) > 0 {
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad fraction %q: %w", args[0], err)
		}
		fraction = f
	}

	store, _, err := demoStore(4, 8)
	if err != nil {
		return err
	}
	before := store.NumChunks()
	_, stats, err := store.GC(chunkstore.GCOptions{
		Target: chunkstore.GCTarget{Kind: chunkstore.GCDropAtLeastFraction, Fraction: fraction},
	})
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	fmt.Printf("gc fraction=%.2f: removed %d/%d chunks, %d bytes freed, time budget exceeded=%v\n",
		fraction, stats.ChunksRemoved, before, stats.BytesRemoved, stats.TimeBudgetExceeded)
	return nil
}

func lineageCommand(args []string) error {
	store, ids, err := demoStore(4, 8)
	if err != nil {
		return err
	}
	tree := store.Lineage()

	roots := 0
	for _, id := range ids {
		if tree.IsRootChunk(id) {
			roots++
		}
	}
	fmt.Printf("lineage tree for store %q: %d chunks tracked, %d root chunk(s)\n", store.ID(), store.NumChunks(), roots)
	for _, id := range ids {
		originRoots := tree.FindRootChunks(id)
		fmt.Printf("  chunk %s: %d root ancestor(s)\n", id, len(originRoots))
	}
	return nil
}

// histogramCommand builds a standalone histogram over the same frame
// numbers demoStore inserts as chunk data, since pkg/histogram is not
// wired into pkg/chunkstore's own indices (it accelerates query planners
// built on top of a store, not the store itself — see DESIGN.md).
func histogramCommand(args []string) error {
	numChunks, rowsPerChunk := 4, 8
	hist := histogram.New()
	for i := 0; i < numChunks*rowsPerChunk; i++ {
		hist.Increment(int64(i), 1)
	}

	total := hist.TotalCount()
	min, hasMin := hist.MinKey()
	max, hasMax := hist.MaxKey()
	fmt.Printf("histogram over %d synthetic frame keys: total=%d", numChunks*rowsPerChunk, total)
	if hasMin && hasMax {
		fmt.Printf(", range=[%d, %d]", min, max)
	}
	fmt.Println()
	return nil
}

func printVersion() {
	fmt.Printf("chunkstorectl %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`chunkstorectl v%s - chunk store inspection CLI

Usage:
  chunkstorectl <command> [options]

Commands:
  insert [numChunks] [rowsPerChunk]   Build a demo store and report its size
  query <at-frame>                    Run a latest-at query against a demo store
  gc [fraction]                       Run a fraction-based GC pass against a demo store
  lineage                             Summarize a demo store's lineage tree
  histogram                           Dump the "frame" timeline histogram
  version                             Show version information
  help                                Show this help message
`, version)
}
