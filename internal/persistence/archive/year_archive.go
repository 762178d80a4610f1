package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/sim/calendar"
)

type YearArchiveMeta struct {
	Year          int    `json:"year"`
	WorldID       string `json:"world_id,omitempty"`
	Snapshot      string `json:"snapshot"`
	CreatedAt     string `json:"created_at"`
	DaysPerSeason int    `json:"days_per_season"`
	Characters    int    `json:"characters"`
}

// IsYearEnd reports whether the snapshot clock sits on the last day of Winter.
func IsYearEnd(snap snapshot.SnapshotV1) bool {
	dps := snap.DaysPerSeason
	if dps <= 0 {
		dps = calendar.DefaultDaysPerSeason
	}
	return calendar.ParseSeason(snap.Clock.Season) == calendar.Winter && snap.Clock.Day == dps
}

// ArchiveYearSnapshot copies a year-end snapshot into `baseDir/archives/year_<NNN>/`.
// It returns (year, archivedPath, archived=true) when the snapshot represents a year end.
func ArchiveYearSnapshot(baseDir, snapshotPath string, snap snapshot.SnapshotV1) (year int, archivedPath string, archived bool, err error) {
	if !IsYearEnd(snap) || snap.Clock.Year <= 0 {
		return 0, "", false, nil
	}
	year = snap.Clock.Year

	archiveDir := filepath.Join(baseDir, "archives", fmt.Sprintf("year_%03d", year))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := YearArchiveMeta{
		Year:          year,
		WorldID:       snap.Header.WorldID,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		DaysPerSeason: snap.DaysPerSeason,
		Characters:    len(snap.Characters),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return year, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
