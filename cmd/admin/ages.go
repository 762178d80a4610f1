package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"aging.ai/internal/persistence/archive"
	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/sim/aging"
)

func agesCmd(args []string) {
	fs := flag.NewFlagSet("ages", flag.ExitOnError)
	ef := addEnvFlags(fs)
	snapPath := fs.String("snapshot", "", "snapshot path (.snap.zst or .json)")
	outPath := fs.String("out", "", "write the updated snapshot here (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	e, err := ef.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	snap, err := readSnapshotFile(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	w := snapshot.NewWorld(&snap)
	runAges(os.Stdout, e, w)

	if *outPath != "" {
		if err := writeSnapshotFile(*outPath, w.Snapshot()); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
	}
}

// runAges loads the world into a fresh registry, as the host does when a save
// is loaded, and prints the resulting updates.
func runAges(out io.Writer, e *env, w *snapshot.World) *aging.Registry {
	reg := aging.NewRegistry(aging.NewEngine(&e.cats.Ages))
	h := aging.Host{World: w, Calendar: w, Assets: e.store, Diag: e.sink}
	updates := reg.OnSessionLoaded(h)
	w.Applied()
	writeUpdates(out, w, updates)
	return reg
}

func simulateCmd(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	ef := addEnvFlags(fs)
	snapPath := fs.String("snapshot", "", "snapshot path (.snap.zst or .json)")
	days := fs.Int("days", 28, "days to advance")
	outPath := fs.String("out", "", "write the final snapshot here (optional)")
	archiveDir := fs.String("archive_dir", "", "write and archive a snapshot at every year end (optional)")
	loadDay := fs.Bool("day_started_on_load", true, "start the load day too, as the host does after loading a save")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	if *days < 0 {
		fmt.Fprintln(os.Stderr, "-days must be >= 0")
		os.Exit(2)
	}
	e, err := ef.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	snap, err := readSnapshotFile(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if snap.DaysPerSeason <= 0 {
		snap.DaysPerSeason = e.tune.DaysPerSeason
	}

	w := snapshot.NewWorld(&snap)
	n, err := runSimulate(os.Stdout, e, w, *days, *archiveDir, *loadDay)
	if err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "simulated %d days to %s: %d birthdays\n", *days, w.Now(), n)

	if *outPath != "" {
		if err := writeSnapshotFile(*outPath, w.Snapshot()); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
	}
}

// runSimulate loads the world, then starts days one at a time, printing only
// birthday updates. With dayStartedOnLoad the load day is started first, so a
// save loaded on an anniversary still sees that birthday. It returns the number
// of birthdays seen. With archiveDir set, every year-end state is snapshotted
// and archived there.
func runSimulate(out io.Writer, e *env, w *snapshot.World, days int, archiveDir string, dayStartedOnLoad bool) (int, error) {
	reg := aging.NewRegistry(aging.NewEngine(&e.cats.Ages))
	h := aging.Host{World: w, Calendar: w, Assets: e.store, Diag: e.sink}
	reg.OnSessionLoaded(h)
	w.Applied()

	total := 0
	if dayStartedOnLoad {
		updates := reg.OnDayStarted(h)
		w.Applied()
		writeUpdates(out, w, updates)
		total += len(updates)
	}
	for i := 0; i < days; i++ {
		w.Advance()
		updates := reg.OnDayStarted(h)
		w.Applied()
		writeUpdates(out, w, updates)
		total += len(updates)

		if archiveDir != "" {
			if err := archiveYearEnd(archiveDir, w.Snapshot()); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func archiveYearEnd(dir string, snap snapshot.SnapshotV1) error {
	if !archive.IsYearEnd(snap) {
		return nil
	}
	path := filepath.Join(dir, "snapshots", fmt.Sprintf("y%03d.snap.zst", snap.Clock.Year))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	_, _, _, err := archive.ArchiveYearSnapshot(dir, path, snap)
	return err
}

func portraitsCmd(args []string) {
	fs := flag.NewFlagSet("portraits", flag.ExitOnError)
	ef := addEnvFlags(fs)
	name := fs.String("name", "", "character name")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}
	e, err := ef.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	buckets, err := e.store.Buckets(*name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "buckets:", err)
		os.Exit(1)
	}
	base, ageable := e.cats.Ages.BaseAge(*name)
	printJSON(struct {
		Name    string `json:"name"`
		Ageable bool   `json:"ageable"`
		BaseAge int    `json:"base_age,omitempty"`
		Root    string `json:"root"`
		Buckets []int  `json:"buckets"`
	}{*name, ageable, base, e.store.Root(), buckets})
}
