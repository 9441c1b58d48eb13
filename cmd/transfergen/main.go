package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"gtfs-routeserver/internal/geo"
	"gtfs-routeserver/internal/gtfs"
)

func main() {
	_ = godotenv.Load()

	var (
		dir      = flag.String("dir", os.Getenv("FEED_DIR"), "GTFS feed directory containing stops.txt")
		maxMiles = flag.Float64("max-miles", 0.25, "Maximum walking distance between paired stops, in miles")
		out      = flag.String("out", "", "Output file (default <dir>/transfers.txt)")
		force    = flag.Bool("force", false, "Overwrite an existing output file")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Writes transfers.txt pairing every two stops within walking distance.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *dir == "" || *maxMiles <= 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *out == "" {
		*out = filepath.Join(*dir, gtfs.TransfersFile)
	}

	if err := run(*dir, *out, *maxMiles, *force, logger); err != nil {
		logger.Error("transfer generation failed", "error", err)
		os.Exit(1)
	}
}

func run(dir, out string, maxMiles float64, force bool, logger *slog.Logger) error {
	start := time.Now()
	logger.Info("generating transfer file", "dir", dir, "max_miles", maxMiles)

	stops, err := gtfs.ReadStops(filepath.Join(dir, gtfs.StopsFile), logger)
	if err != nil {
		return err
	}
	transfers := geo.CandidateTransfers(stops, maxMiles)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(out, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists, use -force to overwrite", out)
		}
		return err
	}
	w := bufio.NewWriter(f)
	if err := gtfs.WriteTransfers(w, transfers); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info("finished generating transfer file",
		"stops", len(stops),
		"transfers", len(transfers),
		"out", out,
		"elapsed", time.Since(start),
	)
	return nil
}
