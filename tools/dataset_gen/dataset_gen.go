// Command dataset_gen generates deterministic tile-key datasets for
// standalone load-testing of the cache outside `go test` — e.g. driving
// a service built on the cache with a realistic mix of zoom levels and tile coordinates
// instead of hand-picked keys.
//
// Usage:
//
//	go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out keys.txt
//
// Flags:
//
//	-n       number of keys to generate (default 1e6)
//	-dist    distribution over tile indices: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1)  (default 1.2)
//	-zipfv   Zipf v parameter (>=1) (default 1.0)
//	-levels  number of pyramid zoom levels (default 8)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
//
// Each line is a tile key of the form "z<level>/x<x>/y<y>", where level is
// chosen uniformly and x/y are chosen by the selected distribution and
// reduced modulo 2^level onto the 2^level x 2^level grid for that level,
// mirroring how a
// multi-resolution image pyramid indexes tiles.
//
// © 2025 volatilecache authors. MIT License.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of tile keys to generate")
		dist    = flag.String("dist", "uniform", "distribution over tile indices: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		levels  = flag.Int("levels", 8, "number of pyramid zoom levels")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *levels < 1 {
		fmt.Fprintln(os.Stderr, "levels must be >= 1")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		level := rnd.Intn(*levels)
		side := uint64(1) << uint(level)
		x := gen() % side
		y := gen() % side
		fmt.Fprintf(w, "z%d/x%d/y%d\n", level, x, y)
	}
}
