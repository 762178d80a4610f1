package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
	"aging.ai/internal/sim/catalogs"
	"aging.ai/internal/sim/tuning"
)

// SQLiteIndex is a read model of host sessions and age changes. Nothing in
// it is read back when ages are computed.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession atomic.Uint64
	dropUpdate  atomic.Uint64
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqUpdates
)

type req struct {
	kind reqKind

	session sessionRow
	updates updatesBatch
}

type sessionRow struct {
	SessionID string
	HostName  string
	Year      int
	Season    string
	Day       int
	Tracked   int
	StartedAt string
}

type updatesBatch struct {
	SessionID  string
	Year       int
	Season     string
	Day        int
	Updates    []aging.Update
	RecordedAt string
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropSessionTotal uint64
	DropUpdateTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			host_name TEXT NOT NULL,
			year INTEGER NOT NULL,
			season TEXT NOT NULL,
			day INTEGER NOT NULL,
			tracked INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS age_changes (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			identity TEXT NOT NULL,
			reason TEXT NOT NULL,
			year INTEGER NOT NULL,
			season TEXT NOT NULL,
			day INTEGER NOT NULL,
			prev_age INTEGER NOT NULL,
			age INTEGER NOT NULL,
			bucket INTEGER NOT NULL,
			portrait TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_age_changes_identity ON age_changes(identity, year);`,
		`CREATE TABLE IF NOT EXISTS portrait_misses (
			identity TEXT NOT NULL,
			bucket INTEGER NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			misses INTEGER NOT NULL,
			PRIMARY KEY (identity, bucket)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropSessionTotal: s.dropSession.Load(),
		DropUpdateTotal:  s.dropUpdate.Load(),
	}
}

func (s *SQLiteIndex) RecordSession(sessionID, hostName string, at calendar.Moment, tracked int) {
	if s == nil || s.closed.Load() || sessionID == "" {
		return
	}
	r := sessionRow{
		SessionID: sessionID,
		HostName:  hostName,
		Year:      at.Year,
		Season:    at.Season.String(),
		Day:       at.Day,
		Tracked:   tracked,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSession, session: r}:
	default:
		// Drop if the indexer falls behind; the JSONL logs remain the source of truth.
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) RecordUpdates(sessionID string, at calendar.Moment, updates []aging.Update) {
	if s == nil || s.closed.Load() || len(updates) == 0 {
		return
	}
	b := updatesBatch{
		SessionID:  sessionID,
		Year:       at.Year,
		Season:     at.Season.String(),
		Day:        at.Day,
		Updates:    append([]aging.Update(nil), updates...),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqUpdates, updates: b}:
	default:
		s.dropUpdate.Add(1)
	}
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" && cats != nil {
		if b, err := os.ReadFile(filepath.Join(configDir, "ages.json")); err == nil && len(b) > 0 {
			rows = append(rows, kv{name: "ages", digest: cats.Ages.Digest, json: b})
		}
	}
	if len(rows) == 0 && cats != nil {
		// Canonical JSON when the catalog did not come from a file.
		if b, _ := json.Marshal(cats.Ages.ByName); len(b) > 0 {
			rows = append(rows, kv{name: "ages", digest: cats.Ages.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,host_name,year,season,day,tracked,started_at) VALUES(?,?,?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO age_changes(session_id,seq,identity,reason,year,season,day,prev_age,age,bucket,portrait,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	upsertMiss, _ := s.db.Prepare(`INSERT INTO portrait_misses(identity,bucket,first_seen,last_seen,misses) VALUES(?,?,?,?,1)
		ON CONFLICT(identity,bucket) DO UPDATE SET last_seen=excluded.last_seen, misses=misses+1`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, insertChange, upsertMiss} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		seqBySession = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSession:
			se := r.session
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(se.SessionID, se.HostName, se.Year, se.Season, se.Day, se.Tracked, se.StartedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqUpdates:
			b := r.updates
			for _, u := range b.Updates {
				seq := seqBySession[b.SessionID]
				seqBySession[b.SessionID] = seq + 1
				var portrait any
				if u.HasPortrait {
					portrait = u.Portrait.Key
				}
				if insertChange != nil {
					if _, err := tx.Stmt(insertChange).Exec(b.SessionID, seq, u.Identity, string(u.Reason), b.Year, b.Season, b.Day, u.PrevAge, u.Age, u.Bucket, portrait, b.RecordedAt); err != nil {
						rollback()
						break
					}
					opCount++
				}
				if !u.HasPortrait && upsertMiss != nil {
					if _, err := tx.Stmt(upsertMiss).Exec(u.Identity, u.Bucket, b.RecordedAt, b.RecordedAt); err != nil {
						rollback()
						break
					}
					opCount++
				}
			}
		}
		flushIfNeeded()
	}
	commit()
}
