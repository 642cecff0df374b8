package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
	"github.com/wbrown/janus-facets/facets/engine"
	"github.com/wbrown/janus-facets/facets/session"
)

func main() {
	var sessionPath string
	var help bool
	var verbose bool
	var showMetrics bool

	flag.StringVar(&sessionPath, "session", "", "session file to run")
	flag.BoolVar(&help, "h", false, "show help")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show pass annotations)")
	flag.BoolVar(&showMetrics, "metrics", false, "dump prometheus metrics after the run")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [session.yaml]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An incremental facet aggregation engine.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Run the built-in demo\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s session.yaml           # Run a session file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -verbose session.yaml  # Show pass annotations\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -metrics session.yaml  # Dump metrics at the end\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	// Check for positional argument
	if sessionPath == "" && flag.NArg() > 0 {
		sessionPath = flag.Arg(0)
	}

	// Create annotation handler if verbose mode
	var handler annotations.Handler
	if verbose {
		formatter := annotations.NewOutputFormatter(os.Stderr)
		handler = annotations.Handler(formatter.Handle)
	}

	registry := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}
	options := []engine.Option{
		engine.WithHandler(handler),
		engine.WithMetrics(metrics),
	}

	if sessionPath == "" {
		runDemo(options)
	} else {
		runSession(sessionPath, options)
	}

	if showMetrics {
		dumpMetrics(registry)
	}
}

func runSession(path string, options []engine.Option) {
	s, err := session.Load(path)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}
	ds, err := s.Build(options...)
	if err != nil {
		log.Fatalf("Failed to build dataset: %v", err)
	}
	if s.Name != "" {
		color.New(color.Bold).Printf("=== %s ===\n", s.Name)
	}
	fmt.Printf("Loaded %d records, %d attributes\n", ds.Len(), len(ds.Attributes()))
	if err := s.Run(ds, os.Stdout); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func runDemo(options []engine.Option) {
	color.New(color.Bold).Println("=== Facets Demo ===")

	ds := engine.NewDataset(options...)
	bin, err := ds.AddAttribute("bin", facets.Column("bin"))
	if err != nil {
		log.Fatalf("Failed to declare bin: %v", err)
	}
	score, err := ds.AddAttribute("score", facets.Column("score"), engine.WithBinning(engine.FixedBreaks{0, 25, 50}))
	if err != nil {
		log.Fatalf("Failed to declare score: %v", err)
	}

	rows := []facets.Row{
		{"id": "r1", "bin": "X", "score": 10},
		{"id": "r2", "bin": "X", "score": 20},
		{"id": "r3", "bin": "X", "score": 30},
		{"id": "r4", "bin": "Y", "score": 40},
		{"id": "r5", "bin": "Y", "score": 50},
	}
	if _, err := ds.AddRows(rows); err != nil {
		log.Fatalf("Failed to add rows: %v", err)
	}

	fmt.Println("\nInitial state:")
	engine.PrintAttribute(bin)

	// A numeric filter that only r2 (score 20) fails
	fmt.Println("\nFilter: score not in [15,25)")
	f, err := ds.Filters().Add("not-r2", score, engine.NotPredicate{Inner: engine.NewRange(15, 25)})
	if err != nil {
		log.Fatalf("Failed to add filter: %v", err)
	}
	if _, err := ds.Filters().Activate(f.ID()); err != nil {
		log.Fatalf("Failed to activate filter: %v", err)
	}
	engine.PrintAttribute(bin)
	engine.PrintAttribute(score)

	// Compare_A selects r1 and r4, which sit in different bins
	fmt.Println("\nCompare_A: r1 and r4")
	crit := engine.PredicateCriterion{Attr: score, Pred: engine.NewCategory(10, 40)}
	if _, err := ds.Compare().SetSlot(facets.SlotA, crit); err != nil {
		log.Fatalf("Failed to set compare slot: %v", err)
	}
	engine.PrintAttribute(bin)

	fmt.Println("\nRemove the filter")
	res, err := ds.Filters().Deactivate(f.ID())
	if err != nil {
		log.Fatalf("Failed to deactivate filter: %v", err)
	}
	fmt.Printf("%d records flipped, %d aggregates changed\n", res.Flipped, len(res.Changed))
	engine.PrintAttribute(bin)

	if err := ds.CheckConsistency(); err != nil {
		log.Fatalf("Consistency check failed: %v", err)
	}
	fmt.Println("Consistency check passed")
}

func dumpMetrics(registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	fmt.Fprintln(os.Stderr)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			log.Fatalf("Failed to write metrics: %v", err)
		}
	}
}
