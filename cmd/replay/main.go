package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "aging.ai/internal/persistence/log"
	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
	"aging.ai/internal/sim/catalogs"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst taken at session load")
		eventsDir = flag.String("events", "", "dir containing ages-*.jsonl.zst (optional)")
		configDir = flag.String("configs", "./configs", "config directory")
		sessionID = flag.String("session", "", "only verify events of this session_id (optional)")
		loadDay   = flag.Bool("day_started_on_load", true, "the host fires DAY_STARTED for the load day too")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s clock=Y%d %s %d days_per_season=%d characters=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Clock.Year, snap.Clock.Season, snap.Clock.Day,
		snap.DaysPerSeason, len(snap.Characters))

	if *eventsDir == "" {
		return
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no ages files found in", *eventsDir)
		os.Exit(1)
	}

	r := newReplayer(&cats.Ages, &snap, *loadDay)
	for _, path := range files {
		if err := r.replayFile(path, *sessionID); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d events (through %s)\n", r.checked, r.world.Now())
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ages-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// replayer recomputes ages from a load-time snapshot and checks them against
// logged age events.
type replayer struct {
	world *snapshot.World
	reg   *aging.Registry
	host  aging.Host

	loaded  map[string]int
	day     map[string]int
	started bool

	checked uint64
}

func newReplayer(cat aging.AgeCatalog, snap *snapshot.SnapshotV1, dayStartedOnLoad bool) *replayer {
	w := snapshot.NewWorld(snap)
	r := &replayer{
		world:   w,
		reg:     aging.NewRegistry(aging.NewEngine(cat)),
		host:    aging.Host{World: w, Calendar: w},
		loaded:  map[string]int{},
		started: !dayStartedOnLoad,
	}
	for _, u := range r.reg.OnSessionLoaded(r.host) {
		r.loaded[u.Identity] = u.Age
	}
	return r
}

func (r *replayer) startDay() {
	r.day = map[string]int{}
	for _, u := range r.reg.OnDayStarted(r.host) {
		r.day[u.Identity] = u.Age
	}
	r.started = true
}

// advanceTo starts every day up to and including target.
func (r *replayer) advanceTo(target calendar.Moment) error {
	if !target.Season.Valid() || target.Day < 1 {
		return fmt.Errorf("bad event date %s", target)
	}
	for {
		if !r.started {
			r.startDay()
		}
		if !before(r.world.Now(), target) {
			break
		}
		r.world.Advance()
		r.started = false
	}
	if before(target, r.world.Now()) {
		return fmt.Errorf("event at %s is before replay clock %s", target, r.world.Now())
	}
	return nil
}

func (r *replayer) check(ev persistlog.AgeEvent) error {
	at := calendar.Moment{Year: ev.Year, Date: calendar.NewDate(ev.Season, ev.Day)}
	switch aging.Reason(ev.Reason) {
	case aging.ReasonSessionLoaded:
		want, ok := r.loaded[ev.Identity]
		if !ok {
			return fmt.Errorf("%s: logged on load but not tracked by replay", ev.Identity)
		}
		if want != ev.Age {
			return fmt.Errorf("%s: load age mismatch: got=%d want=%d", ev.Identity, want, ev.Age)
		}
	case aging.ReasonBirthday:
		if err := r.advanceTo(at); err != nil {
			return err
		}
		got, ok := r.day[ev.Identity]
		if !ok {
			return fmt.Errorf("%s: logged birthday at %s did not replay", ev.Identity, at)
		}
		if got != ev.Age {
			return fmt.Errorf("%s: birthday age mismatch at %s: got=%d want=%d", ev.Identity, at, got, ev.Age)
		}
	default:
		return fmt.Errorf("%s: unknown reason %q", ev.Identity, ev.Reason)
	}
	r.checked++
	return nil
}

func (r *replayer) replayFile(path, sessionID string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var ev persistlog.AgeEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if sessionID != "" && ev.SessionID != sessionID {
			continue
		}
		if err := r.check(ev); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func before(a, b calendar.Moment) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.Date.Compare(b.Date) < 0
}
