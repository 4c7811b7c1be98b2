// Command speed-report summarises the speeds recorded in a telemetry database
// and renders an HTML speed-over-time chart for one run.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trafficmgr/internal/sim"
	"github.com/banshee-data/trafficmgr/internal/telemetry"
	"github.com/banshee-data/trafficmgr/internal/units"
)

var (
	dbFile = flag.String("db", "telemetry.db", "Telemetry database file")
	runID  = flag.String("run", "", "Run id to report on (default: most recent run)")
	out    = flag.String("out", "speed-report.html", "Output HTML file")
	unit   = flag.String("units", "mps", "Display units: mps, kmph or mph")
)

func main() {
	flag.Parse()

	if !units.IsValid(*unit) {
		log.Fatalf("unknown units %q (want one of %v)", *unit, units.ValidUnits)
	}
	label := unitLabel(*unit)

	rec, err := telemetry.OpenForReading(*dbFile)
	if err != nil {
		log.Fatalf("failed to open telemetry db: %v", err)
	}
	defer rec.Close()

	run := *runID
	if run == "" {
		runs, err := rec.Runs()
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("no runs recorded")
		}
		run = runs[0].RunID
	}

	series, err := rec.SpeedSeries(run)
	if err != nil {
		log.Fatalf("failed to load speed series: %v", err)
	}
	if len(series) == 0 {
		log.Fatalf("run %s has no speed observations", run)
	}
	batches, err := rec.BatchCount(run)
	if err != nil {
		log.Fatalf("failed to count batches: %v", err)
	}

	fmt.Printf("run %s: %d vehicles, %d applied frames\n", run, len(series), batches)
	printSummaries(series, *unit, label)

	if err := renderChart(run, series, *unit, label, *out); err != nil {
		log.Fatalf("failed to render chart: %v", err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func unitLabel(unit string) string {
	switch unit {
	case units.KMPH, units.KPH:
		return "km/h"
	case units.MPH:
		return "mph"
	default:
		return "m/s"
	}
}

// printSummaries writes per-vehicle speed statistics to stdout.
func printSummaries(series map[sim.ActorID][]telemetry.SpeedSample, unit, label string) {
	ids := make([]sim.ActorID, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Printf("%8s %8s %8s %8s %8s\n", "vehicle", "samples", "mean", "stddev", "p85")
	for _, id := range ids {
		speeds := make([]float64, len(series[id]))
		for i, s := range series[id] {
			speeds[i] = units.FromMPS(s.SpeedMPS, unit)
		}
		sort.Float64s(speeds)
		mean := stat.Mean(speeds, nil)
		sd := stat.StdDev(speeds, nil)
		p85 := stat.Quantile(0.85, stat.Empirical, speeds, nil)
		fmt.Printf("%8d %8d %7.1f%s %7.1f%s %7.1f%s\n",
			id, len(speeds), mean, label, sd, label, p85, label)
	}
}

func renderChart(run string, series map[sim.ActorID][]telemetry.SpeedSample, unit, label, path string) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Traffic Speed Report", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vehicle speeds", Subtitle: fmt.Sprintf("run=%s units=%s", run, label)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("speed (%s)", label)}),
	)

	ids := make([]sim.ActorID, 0, len(series))
	longest := 0
	for id, samples := range series {
		ids = append(ids, id)
		if len(samples) > longest {
			longest = len(samples)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// X axis is the sample index; runs sample on a fixed cadence so the
	// index maps linearly to elapsed time.
	x := make([]int, longest)
	for i := range x {
		x[i] = i
	}
	line.SetXAxis(x)

	for _, id := range ids {
		data := make([]opts.LineData, len(series[id]))
		for i, s := range series[id] {
			data[i] = opts.LineData{Value: units.FromMPS(s.SpeedMPS, unit)}
		}
		line.AddSeries(fmt.Sprintf("vehicle %d", id), data)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	return line.Render(f)
}
