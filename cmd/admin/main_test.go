package main

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"aging.ai/internal/diag"
	"aging.ai/internal/persistence/assets"
	"aging.ai/internal/persistence/indexdb"
	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
	"aging.ai/internal/sim/catalogs"
)

func testEnv(t *testing.T) (*env, *diag.Recorder) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Shane"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "Shane", "Shane_30.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := &diag.Recorder{}
	return &env{
		cats:  &catalogs.Catalogs{Ages: *catalogs.NewAgeCatalog(map[string]int{"Shane": 30, "Leah": 25})},
		store: assets.NewFSStore(root, "png"),
		sink:  rec,
	}, rec
}

func testSnapshot() snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header:        snapshot.Header{WorldID: "farm"},
		DaysPerSeason: 28,
		Clock:         snapshot.ClockV1{Year: 1, Season: "Spring", Day: 18},
		Characters: []snapshot.CharacterV1{
			{Name: "Shane", BirthdaySeason: "Spring", BirthdayDay: 20, Age: 30, Portrait: "Shane"},
			{Name: "Leah", BirthdaySeason: "Winter", BirthdayDay: 23, Age: 25, Portrait: "Leah"},
			{Name: "Marlon", BirthdaySeason: "", BirthdayDay: 0},
		},
	}
}

func decodeRows(t *testing.T, b []byte) []updateRow {
	t.Helper()
	var out []updateRow
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var r updateRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestRunAges(t *testing.T) {
	e, rec := testEnv(t)
	snap := testSnapshot()
	w := snapshot.NewWorld(&snap)

	var buf bytes.Buffer
	reg := runAges(&buf, e, w)
	if reg.Len() != 2 {
		t.Fatalf("tracked=%d want 2", reg.Len())
	}
	rows := decodeRows(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("rows=%v", rows)
	}
	if rows[0].Name != "Shane" || rows[0].Age != 30 || rows[0].Portrait != "Shane_30" {
		t.Fatalf("Shane row=%+v", rows[0])
	}
	if rows[1].Name != "Leah" || rows[1].Age != 25 || rows[1].Portrait != "" {
		t.Fatalf("Leah row=%+v", rows[1])
	}
	if rec.Count("portrait Leah_25 does not exist") != 1 {
		t.Fatalf("diagnostics=%v", rec.Entries())
	}
	if got := w.Snapshot().Characters[0].Portrait; got != "Shane_30" {
		t.Fatalf("snapshot portrait=%q", got)
	}
}

func TestRunSimulate(t *testing.T) {
	e, _ := testEnv(t)
	snap := testSnapshot()
	w := snapshot.NewWorld(&snap)

	var buf bytes.Buffer
	n, err := runSimulate(&buf, e, w, 5, "", true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if n != 1 {
		t.Fatalf("birthdays=%d want 1", n)
	}
	rows := decodeRows(t, buf.Bytes())
	if len(rows) != 1 {
		t.Fatalf("rows=%v", rows)
	}
	r := rows[0]
	if r.Name != "Shane" || r.Season != "Spring" || r.Day != 20 || r.PrevAge != 30 || r.Age != 31 || r.Reason != string(aging.ReasonBirthday) {
		t.Fatalf("row=%+v", r)
	}
	now := w.Now()
	if now.Year != 1 || now.Season != calendar.Spring || now.Day != 23 {
		t.Fatalf("now=%s", now)
	}
	if got := w.Snapshot().Characters[0].Age; got != 31 {
		t.Fatalf("snapshot age=%d want 31", got)
	}
}

func TestRunSimulate_LoadedOnAnniversary(t *testing.T) {
	e, _ := testEnv(t)
	snap := testSnapshot()
	snap.Clock = snapshot.ClockV1{Year: 1, Season: "Spring", Day: 20}
	w := snapshot.NewWorld(&snap)

	var buf bytes.Buffer
	n, err := runSimulate(&buf, e, w, 1, "", true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if n != 1 {
		t.Fatalf("birthdays=%d want 1", n)
	}
	rows := decodeRows(t, buf.Bytes())
	if len(rows) != 1 || rows[0].Name != "Shane" || rows[0].Day != 20 || rows[0].PrevAge != 30 || rows[0].Age != 31 {
		t.Fatalf("rows=%+v", rows)
	}

	now := w.Now()
	if now.Season != calendar.Spring || now.Day != 21 {
		t.Fatalf("now=%s", now)
	}
	want, err := aging.NewEngine(&e.cats.Ages).ComputeAge("Shane", calendar.NewDate("Spring", 20), now.Year, now.Date)
	if err != nil {
		t.Fatalf("ComputeAge: %v", err)
	}
	if got := w.Snapshot().Characters[0].Age; got != want {
		t.Fatalf("simulated age=%d fresh=%d", got, want)
	}
}

func TestRunSimulate_WithoutLoadDayStart(t *testing.T) {
	e, _ := testEnv(t)
	snap := testSnapshot()
	snap.Clock = snapshot.ClockV1{Year: 1, Season: "Spring", Day: 20}
	w := snapshot.NewWorld(&snap)

	n, err := runSimulate(&bytes.Buffer{}, e, w, 1, "", false)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if n != 0 {
		t.Fatalf("birthdays=%d want 0", n)
	}
}

func TestRunSimulate_WholeYear(t *testing.T) {
	e, _ := testEnv(t)
	snap := testSnapshot()
	w := snapshot.NewWorld(&snap)

	archiveDir := t.TempDir()
	var buf bytes.Buffer
	n, err := runSimulate(&buf, e, w, 4*28, archiveDir, true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if n != 2 {
		t.Fatalf("birthdays=%d want 2 (one each)", n)
	}
	archived := filepath.Join(archiveDir, "archives", "year_001", "y001.snap.zst")
	h, err := snapshot.ReadHeader(archived)
	if err != nil {
		t.Fatalf("year 1 archive: %v", err)
	}
	if h.Year != 1 || h.Season != "Winter" || h.Day != 28 {
		t.Fatalf("archived header=%+v", h)
	}
	for _, c := range w.Snapshot().Characters {
		switch c.Name {
		case "Shane":
			if c.Age != 31 {
				t.Fatalf("Shane=%d want 31", c.Age)
			}
		case "Leah":
			if c.Age != 26 {
				t.Fatalf("Leah=%d want 26", c.Age)
			}
		}
	}
}

func TestSnapshotImportExport(t *testing.T) {
	dir := t.TempDir()
	jsonIn := filepath.Join(dir, "in.json")
	if err := snapshot.WriteJSON(jsonIn, testSnapshot()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	bin := filepath.Join(dir, "out", "world.snap.zst")
	if err := importSnapshot(jsonIn, bin, "valley"); err != nil {
		t.Fatalf("import: %v", err)
	}
	h, err := snapshot.ReadHeader(bin)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.WorldID != "valley" || h.Season != "Spring" || h.Day != 18 {
		t.Fatalf("header=%+v", h)
	}

	jsonOut := filepath.Join(dir, "back.json")
	if err := exportSnapshot(bin, jsonOut); err != nil {
		t.Fatalf("export: %v", err)
	}
	back, err := readSnapshotFile(jsonOut)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(back.Characters) != 3 || back.Characters[0].Name != "Shane" {
		t.Fatalf("characters=%+v", back.Characters)
	}
}

func TestRunDBQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aging.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	at := calendar.Moment{Year: 1, Date: calendar.Date{Season: calendar.Spring, Day: 1}}
	idx.RecordSession("s-1", "farmhost", at, 1)
	idx.RecordUpdates("s-1", at, []aging.Update{{Identity: "Leah", Reason: aging.ReasonSessionLoaded, Age: 25, Bucket: 25}})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, q := range []string{"sessions", "changes", "misses"} {
		var buf bytes.Buffer
		if err := runDBQuery(&buf, db, q, dbFilter{Name: "Leah"}); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		if q == "sessions" && !bytes.Contains(buf.Bytes(), []byte(`"host_name":"farmhost"`)) {
			t.Fatalf("sessions output=%s", buf.String())
		}
		if q != "sessions" && !bytes.Contains(buf.Bytes(), []byte(`"identity":"Leah"`)) {
			t.Fatalf("%s output=%s", q, buf.String())
		}
	}
	if err := runDBQuery(&bytes.Buffer{}, db, "villagers", dbFilter{}); err == nil {
		t.Fatalf("expected unknown query error")
	}
}
