package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/aging.sqlite)")
	session := fs.String("session", "", "session_id filter (changes)")
	name := fs.String("name", "", "identity filter (changes|misses)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "aging.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runDBQuery(os.Stdout, db, q, dbFilter{Session: *session, Name: *name, Limit: *limit}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-session ID] [-name NAME] sessions|changes|misses")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type dbFilter struct {
	Session string
	Name    string
	Limit   int
}

func runDBQuery(out io.Writer, db *sql.DB, q string, f dbFilter) error {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	enc := newJSONEncoder(out)

	switch q {
	case "sessions":
		rows, err := db.Query(`SELECT session_id,host_name,year,season,day,tracked,started_at FROM sessions ORDER BY started_at DESC LIMIT ?`, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID string `json:"session_id"`
				HostName  string `json:"host_name"`
				Year      int    `json:"year"`
				Season    string `json:"season"`
				Day       int    `json:"day"`
				Tracked   int    `json:"tracked"`
				StartedAt string `json:"started_at"`
			}
			if err := rows.Scan(&r.SessionID, &r.HostName, &r.Year, &r.Season, &r.Day, &r.Tracked, &r.StartedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "changes":
		where := []string{"1=1"}
		var args []any
		if f.Session != "" {
			where = append(where, "session_id=?")
			args = append(args, f.Session)
		}
		if f.Name != "" {
			where = append(where, "identity=?")
			args = append(args, f.Name)
		}
		args = append(args, f.Limit)
		rows, err := db.Query(`SELECT session_id,seq,identity,reason,year,season,day,prev_age,age,bucket,portrait FROM age_changes WHERE `+strings.Join(where, " AND ")+` ORDER BY recorded_at DESC, seq DESC LIMIT ?`, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					SessionID string `json:"session_id"`
					Seq       int    `json:"seq"`
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
				portrait sql.NullString
			)
			if err := rows.Scan(&r.SessionID, &r.Seq, &r.Identity, &r.Reason, &r.Year, &r.Season, &r.Day, &r.PrevAge, &r.Age, &r.Bucket, &portrait); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Portrait = portrait.String
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "misses":
		query := `SELECT identity,bucket,misses,first_seen,last_seen FROM portrait_misses ORDER BY misses DESC, identity LIMIT ?`
		args := []any{f.Limit}
		if f.Name != "" {
			query = `SELECT identity,bucket,misses,first_seen,last_seen FROM portrait_misses WHERE identity=? ORDER BY bucket LIMIT ?`
			args = []any{f.Name, f.Limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Identity  string `json:"identity"`
				Bucket    int    `json:"bucket"`
				Misses    int    `json:"misses"`
				FirstSeen string `json:"first_seen"`
				LastSeen  string `json:"last_seen"`
			}
			if err := rows.Scan(&r.Identity, &r.Bucket, &r.Misses, &r.FirstSeen, &r.LastSeen); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}
