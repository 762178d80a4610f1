package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"aging.ai/internal/diag"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
)

// JSONLZstdWriter appends JSON lines to hourly zstd-compressed files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

type DiagEntry struct {
	Time      string `json:"time"`
	SessionID string `json:"session_id,omitempty"`
	Level     string `json:"level"`
	Msg       string `json:"msg"`
}

// DiagLogger is a diag.Sink that keeps every message at or above min in
// compressed JSONL. Write failures are dropped; diagnostics never affect
// the caller.
type DiagLogger struct {
	w         *JSONLZstdWriter
	sessionID string
	min       diag.Level
}

func NewDiagLogger(dir string, min diag.Level) *DiagLogger {
	return &DiagLogger{w: NewJSONLZstdWriter(dir, "diagnostics"), min: min}
}

// WithSession returns a logger sharing the same files that stamps entries
// with sessionID.
func (l *DiagLogger) WithSession(sessionID string) *DiagLogger {
	return &DiagLogger{w: l.w, sessionID: sessionID, min: l.min}
}

func (l *DiagLogger) Log(level diag.Level, msg string) {
	if level < l.min {
		return
	}
	_ = l.w.Write(DiagEntry{
		Time:      l.w.now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Level:     level.String(),
		Msg:       msg,
	})
}

func (l *DiagLogger) Close() error { return l.w.Close() }

type AgeEvent struct {
	Time      string `json:"time"`
	SessionID string `json:"session_id,omitempty"`
	Identity  string `json:"identity"`
	Reason    string `json:"reason"`
	Year      int    `json:"year"`
	Season    string `json:"season"`
	Day       int    `json:"day"`
	PrevAge   int    `json:"prev_age"`
	Age       int    `json:"age"`
	Bucket    int    `json:"bucket"`
	Portrait  string `json:"portrait,omitempty"`
}

// AgeEventLogger writes one JSONL entry per applied age update (compressed).
type AgeEventLogger struct{ w *JSONLZstdWriter }

func NewAgeEventLogger(dir string) *AgeEventLogger {
	return &AgeEventLogger{w: NewJSONLZstdWriter(dir, "ages")}
}

func (l *AgeEventLogger) WriteUpdate(sessionID string, at calendar.Moment, u aging.Update) error {
	ev := AgeEvent{
		Time:      l.w.now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Identity:  u.Identity,
		Reason:    string(u.Reason),
		Year:      at.Year,
		Season:    at.Season.String(),
		Day:       at.Day,
		PrevAge:   u.PrevAge,
		Age:       u.Age,
		Bucket:    u.Bucket,
	}
	if u.HasPortrait {
		ev.Portrait = u.Portrait.Key
	}
	return l.w.Write(ev)
}

func (l *AgeEventLogger) Close() error { return l.w.Close() }
