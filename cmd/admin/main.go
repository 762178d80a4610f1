package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"aging.ai/internal/diag"
	"aging.ai/internal/persistence/assets"
	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/catalogs"
	"aging.ai/internal/sim/tuning"
)

const usage = `usage: admin <command> [flags]

commands:
  ages       compute ages and portraits for a snapshot
  simulate   advance a snapshot day by day and print birthdays
  portraits  list portrait buckets on disk for a character
  snapshot   import|export between JSON and .snap.zst
  db         query the sqlite index (sessions|changes|misses)
  state      fetch /admin/v1/state from a running server`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "ages":
		agesCmd(os.Args[2:])
	case "simulate":
		simulateCmd(os.Args[2:])
	case "portraits":
		portraitsCmd(os.Args[2:])
	case "snapshot":
		snapshotCmd(os.Args[2:])
	case "db":
		dbCmd(os.Args[2:])
	case "state":
		stateCmd(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// env is the shared setup for commands that run the aging registry offline.
type env struct {
	cats  *catalogs.Catalogs
	tune  tuning.Tuning
	store *assets.FSStore
	sink  diag.Sink
}

type envFlags struct {
	configDir *string
	portraits *string
	level     *string
}

func addEnvFlags(fs *flag.FlagSet) envFlags {
	return envFlags{
		configDir: fs.String("configs", "./configs", "config directory"),
		portraits: fs.String("portraits", "", "portrait asset root (default: tuning portraits.dir)"),
		level:     fs.String("level", "INFO", "minimum diagnostic level printed to stderr"),
	}
}

func (f envFlags) load() (*env, error) {
	cats, err := catalogs.Load(*f.configDir)
	if err != nil {
		return nil, err
	}
	tune, err := tuning.Load(filepath.Join(*f.configDir, "tuning.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		tune = tuning.Defaults()
	}
	lvl, ok := diag.ParseLevel(*f.level)
	if !ok {
		return nil, fmt.Errorf("unknown -level %q", *f.level)
	}
	root := strings.TrimSpace(*f.portraits)
	if root == "" {
		root = tune.Portraits.Dir
	}
	return &env{
		cats:  cats,
		tune:  tune,
		store: assets.NewFSStore(root, tune.Portraits.Ext),
		sink:  diag.NewLogSink(log.New(os.Stderr, "[admin] ", 0), lvl),
	}, nil
}

// readSnapshotFile accepts either a .snap.zst or a .json snapshot.
func readSnapshotFile(path string) (snapshot.SnapshotV1, error) {
	if strings.HasSuffix(path, ".json") {
		return snapshot.ReadJSON(path)
	}
	return snapshot.ReadSnapshot(path)
}

func writeSnapshotFile(path string, snap snapshot.SnapshotV1) error {
	if strings.HasSuffix(path, ".json") {
		return snapshot.WriteJSON(path, snap)
	}
	return snapshot.WriteSnapshot(path, snap)
}

type updateRow struct {
	Year     int    `json:"year"`
	Season   string `json:"season"`
	Day      int    `json:"day"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	PrevAge  int    `json:"prev_age"`
	Age      int    `json:"age"`
	Bucket   int    `json:"bucket"`
	Portrait string `json:"portrait,omitempty"`
}

func writeUpdates(out io.Writer, w *snapshot.World, updates []aging.Update) {
	now := w.Now()
	enc := newJSONEncoder(out)
	for _, u := range updates {
		r := updateRow{
			Year:    now.Year,
			Season:  now.Season.String(),
			Day:     now.Day,
			Name:    u.Identity,
			Reason:  string(u.Reason),
			PrevAge: u.PrevAge,
			Age:     u.Age,
			Bucket:  u.Bucket,
		}
		if u.HasPortrait {
			r.Portrait = u.Portrait.Key
		}
		_ = enc.Encode(r)
	}
}

func newJSONEncoder(out io.Writer) *json.Encoder {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return enc
}

func printJSON(v any) {
	_ = newJSONEncoder(os.Stdout).Encode(v)
}
