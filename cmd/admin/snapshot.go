package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"aging.ai/internal/persistence/snapshot"
)

func snapshotCmd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot import|export -in PATH -out PATH")
		os.Exit(2)
	}
	op := args[0]
	fs := flag.NewFlagSet("snapshot "+op, flag.ExitOnError)
	in := fs.String("in", "", "input path")
	out := fs.String("out", "", "output path")
	worldID := fs.String("world", "", "world id stamped into the header on import (optional)")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*in) == "" || strings.TrimSpace(*out) == "" {
		fmt.Fprintln(os.Stderr, "missing -in or -out")
		os.Exit(2)
	}

	var err error
	switch op {
	case "import":
		err = importSnapshot(*in, *out, *worldID)
	case "export":
		err = exportSnapshot(*in, *out)
	default:
		fmt.Fprintln(os.Stderr, "unknown snapshot op:", op)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot "+op+":", err)
		os.Exit(1)
	}
}

// importSnapshot converts a JSON snapshot into the compressed binary form.
func importSnapshot(in, out, worldID string) error {
	snap, err := snapshot.ReadJSON(in)
	if err != nil {
		return err
	}
	if worldID != "" {
		snap.Header.WorldID = worldID
	}
	return snapshot.WriteSnapshot(out, snap)
}

func exportSnapshot(in, out string) error {
	snap, err := snapshot.ReadSnapshot(in)
	if err != nil {
		return err
	}
	return snapshot.WriteJSON(out, snap)
}
