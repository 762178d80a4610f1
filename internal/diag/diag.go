// Package diag carries leveled diagnostic messages out of the aging core.
// Sinks are observational: nothing they do feeds back into age computation.
package diag

import (
	"log"
	"strings"
	"sync"
)

type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelAlert
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "ALERT"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelAlert {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn, true
	}
	for i, n := range levelNames {
		if n == s {
			return Level(i), true
		}
	}
	return LevelDebug, false
}

type Sink interface {
	Log(level Level, msg string)
}

// Discard drops every message.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(Level, string) {}

// LogSink prints messages at or above Min to a process logger.
type LogSink struct {
	Logger *log.Logger
	Min    Level
}

func NewLogSink(logger *log.Logger, min Level) *LogSink {
	return &LogSink{Logger: logger, Min: min}
}

func (s *LogSink) Log(level Level, msg string) {
	if s == nil || s.Logger == nil || level < s.Min {
		return
	}
	s.Logger.Printf("%s %s", level, msg)
}

type tee []Sink

// Tee fans every message out to all non-nil sinks.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) Log(level Level, msg string) {
	for _, s := range t {
		s.Log(level, msg)
	}
}

type Entry struct {
	Level Level
	Msg   string
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Log(level Level, msg string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg})
	r.mu.Unlock()
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many recorded messages contain substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, e := range r.Entries() {
		if strings.Contains(e.Msg, substr) {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
