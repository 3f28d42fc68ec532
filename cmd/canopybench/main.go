// canopybench drives the tree containers and the baseline maps through the
// harness's workload schedule and prints per-size latency tables.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/cbehopkins/canopy/bench"
	"github.com/cbehopkins/canopy/bptree"
	"github.com/cbehopkins/canopy/btree"
	"github.com/cbehopkins/canopy/search"
)

type cli struct {
	LogCount     int      `help:"Largest map size exponent: sizes run up to 2^(log-count-1)." default:"17"`
	Maps         []string `help:"Maps to bench: btree, bptree, bptree-lazy, gomap, tidwall." default:"btree,bptree,bptree-lazy,gomap,tidwall"`
	Fanout       int      `help:"B-tree node capacity, and tidwall degree." default:"8"`
	BranchFanout int      `help:"B+-tree branch capacity." default:"8"`
	LeafFanout   int      `help:"B+-tree leaf capacity." default:"8"`
	Search       string   `help:"Search strategy: linear, linear-branchless, binary-branchless, dynamic." default:"dynamic"`
	Cutoff       int      `help:"Dynamic strategy cutoff." default:"8"`
	Debug        bool     `help:"Validate trees after every put and trace operations. Slow."`
	Summary      bool     `help:"Also print whole-run percentile summaries."`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("canopybench"),
		kong.Description("Benchmark the canopy tree containers against general-purpose maps."),
	)

	log, err := zap.NewProduction()
	if args.Debug {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	strat, err := search.Parse(args.Search)
	if err != nil {
		log.Fatal("bad search strategy", zap.Error(err))
	}
	if strat == search.LinearLazy {
		log.Fatal("linear-lazy is selected through the bptree-lazy map, not --search")
	}

	for _, name := range args.Maps {
		newMap, err := args.maker(name, strat, log)
		if err != nil {
			log.Fatal("bad map name", zap.String("map", name), zap.Error(err))
		}

		fmt.Printf("\n%s:\n", name)
		log.Info("running schedule",
			zap.String("map", name),
			zap.Int("logCount", args.LogCount),
		)

		rng := bench.NewXorShift64()
		mt, err := bench.RunAll(newMap, rng, args.LogCount)
		if err != nil {
			log.Fatal("schedule failed", zap.String("map", name), zap.Error(err))
		}
		if err := bench.Report(os.Stdout, mt); err != nil {
			log.Fatal("report failed", zap.Error(err))
		}
		if args.Summary {
			fmt.Println()
			if err := bench.Summary(os.Stdout, mt); err != nil {
				log.Fatal("summary failed", zap.Error(err))
			}
		}
	}
	fmt.Println()
}

// maker returns a constructor producing a fresh MapUnderTest per repetition.
func (c *cli) maker(name string, strat search.Strategy, log *zap.Logger) (func() (bench.MapUnderTest, error), error) {
	uintLess := func(a, b uint64) bool { return a < b }

	switch name {
	case "btree":
		return func() (bench.MapUnderTest, error) {
			m, err := btree.New[uint64, uint64](btree.Options[uint64]{
				Fanout:        c.Fanout,
				Search:        strat,
				DynamicCutoff: c.Cutoff,
				Less:          uintLess,
				Debug:         c.Debug,
				Log:           log,
			})
			if err != nil {
				return nil, err
			}
			return &bench.FuncMap{
				PutFunc: func(k, v uint64) error {
					_, err := m.Put(k, v)
					return err
				},
				GetFunc:  m.Get,
				LenFunc:  m.Len,
				FreeFunc: func() { _ = m.Close() },
			}, nil
		}, nil
	case "bptree", "bptree-lazy":
		leafStrat := strat
		if name == "bptree-lazy" {
			leafStrat = search.LinearLazy
		}
		return func() (bench.MapUnderTest, error) {
			m, err := bptree.New[uint64, uint64](bptree.Options[uint64]{
				BranchFanout:  c.BranchFanout,
				LeafFanout:    c.LeafFanout,
				BranchSearch:  strat,
				LeafSearch:    leafStrat,
				DynamicCutoff: c.Cutoff,
				Less:          uintLess,
				Debug:         c.Debug,
				Log:           log,
			})
			if err != nil {
				return nil, err
			}
			return &bench.FuncMap{
				PutFunc: func(k, v uint64) error {
					_, err := m.Put(k, v)
					return err
				},
				GetFunc:  m.Get,
				LenFunc:  m.Len,
				FreeFunc: func() { _ = m.Close() },
			}, nil
		}, nil
	case "gomap":
		return func() (bench.MapUnderTest, error) { return bench.NewGoMap(), nil }, nil
	case "tidwall":
		return func() (bench.MapUnderTest, error) { return bench.NewTidwallMap(c.Fanout), nil }, nil
	default:
		return nil, fmt.Errorf("unknown map %q", name)
	}
}
