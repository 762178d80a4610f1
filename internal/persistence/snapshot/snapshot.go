package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Year    int    `json:"year"`
	Season  string `json:"season"`
	Day     int    `json:"day"`
}

// SnapshotV1 is a host world captured at the start of a session: the
// calendar position plus every character's raw state.
type SnapshotV1 struct {
	Header Header `json:"header"`

	DaysPerSeason int `json:"days_per_season,omitempty"`

	Clock      ClockV1       `json:"clock"`
	Characters []CharacterV1 `json:"characters"`
}

type ClockV1 struct {
	Year   int    `json:"year"`
	Season string `json:"season"`
	Day    int    `json:"day"`
}

type CharacterV1 struct {
	Name           string `json:"name"`
	BirthdaySeason string `json:"birthday_season"`
	BirthdayDay    int    `json:"birthday_day"`
	Age            int    `json:"age"`
	Portrait       string `json:"portrait,omitempty"`
}

func (s *SnapshotV1) syncHeader() {
	s.Header.Version = Version
	s.Header.Year = s.Clock.Year
	s.Header.Season = s.Clock.Season
	s.Header.Day = s.Clock.Day
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	snap.syncHeader()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line duplicates what gob carries; it exists for quick peeks.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// ReadJSON loads a plain JSON world export, as produced by host tooling.
func ReadJSON(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	raw, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	snap.syncHeader()
	return snap, nil
}

func WriteJSON(path string, snap SnapshotV1) error {
	snap.syncHeader()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
