// plot-run renders a recorded run's trajectory to a PNG, or lists the
// recorded runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/fieldpose/internal/db"
	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/monitor"
	"github.com/banshee-data/fieldpose/internal/security"
)

func main() {
	var dbPath, runID, layoutName, out string
	var list bool

	flag.StringVar(&dbPath, "db", "fieldpose.db", "path to sqlite db")
	flag.StringVar(&runID, "run", "latest", "run ID to plot, or \"latest\"")
	flag.StringVar(&layoutName, "layout", "active", "stored field layout to draw; empty for none")
	flag.StringVar(&out, "out", "", "output PNG path (default run-<id>.png)")
	flag.BoolVar(&list, "list", false, "list recorded runs and exit")
	flag.Parse()

	ctx := context.Background()
	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	if list {
		runs, err := database.Runs(ctx, 0)
		if err != nil {
			log.Fatalf("list runs: %v", err)
		}
		for _, r := range runs {
			ended := "running"
			if r.Ended != nil {
				ended = r.Ended.Sub(r.Started).Round(time.Second).String()
			}
			fmt.Printf("%s  %s  %-26s %-7s %s  %s\n", r.ID, r.Started.Format(time.RFC3339), r.Strategy, r.Source, ended, r.Note)
		}
		return
	}

	if runID == "latest" {
		runs, err := database.Runs(ctx, 1)
		if err != nil {
			log.Fatalf("list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("no recorded runs")
		}
		runID = runs[0].ID
	}
	run, err := database.GetRun(ctx, runID)
	if err != nil {
		log.Fatalf("run %s: %v", runID, err)
	}

	estimates, err := database.ListRunEstimates(ctx, run.ID)
	if err != nil {
		log.Fatalf("list estimates: %v", err)
	}
	poses := make([]geom.Pose, len(estimates))
	for i, e := range estimates {
		poses[i] = e.Pose
	}

	var layout *fieldlayout.Layout
	if layoutName != "" {
		layout, err = database.LoadLayout(ctx, layoutName)
		if errors.Is(err, db.ErrLayoutNotFound) {
			log.Printf("no stored layout %q; plotting without tags", layoutName)
		} else if err != nil {
			log.Fatalf("load layout: %v", err)
		}
	}

	if out == "" {
		out = fmt.Sprintf("run-%s.png", security.SanitizeFilename(run.ID))
	}
	if err := security.ValidateOutputPath(out); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}
	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("create %s: %v", out, err)
	}
	title := fmt.Sprintf("run %s (%s, %d estimates)", run.ID, run.Strategy, len(poses))
	if err := monitor.WriteTrajectoryPNG(f, title, poses, layout); err != nil {
		f.Close()
		log.Fatalf("render: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", out, err)
	}
	fmt.Printf("wrote %s (%d estimates)\n", out, len(poses))
}
