package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"aging.ai/internal/persistence/snapshot"
	"aging.ai/internal/protocol"
	"aging.ai/internal/sim/aging"
)

type config struct {
	URL      string
	HostName string
	Days     int
	Interval time.Duration
}

type summary struct {
	SessionID string
	Days      int
	Updates   int
	Birthdays int
	Errors    int
}

// run plays a host against the bridge: it loads snap, then starts cfg.Days
// days, applying every APPLY back onto the snapshot.
func run(ctx context.Context, cfg config, snap *snapshot.SnapshotV1, logger *log.Logger) (summary, error) {
	var sum summary

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return sum, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		HostName:        cfg.HostName,
	}); err != nil {
		return sum, fmt.Errorf("send HELLO: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := readTyped(conn, protocol.TypeWelcome, &welcome); err != nil {
		return sum, err
	}
	sum.SessionID = welcome.SessionID
	logger.Printf("WELCOME session_id=%s catalog=%d days_per_season=%d", welcome.SessionID, welcome.Catalog.Count, welcome.DaysPerSeason)
	if snap.DaysPerSeason <= 0 {
		snap.DaysPerSeason = welcome.DaysPerSeason
	}

	w := snapshot.NewWorld(snap)
	loaded := protocol.SessionLoadedMsg{
		Type:            protocol.TypeSessionLoaded,
		ProtocolVersion: protocol.Version,
		Clock:           clock(w),
	}
	for _, c := range w.Characters() {
		loaded.Characters = append(loaded.Characters, protocol.CharacterState{
			Name:           c.Name,
			BirthdaySeason: c.BirthdaySeason,
			BirthdayDay:    c.BirthdayDay,
			Age:            c.Age,
			Portrait:       c.Portrait,
		})
	}
	if err := exchange(conn, loaded, w, &sum, logger); err != nil {
		return sum, err
	}

	for i := 0; i <= cfg.Days; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sum, nil
			case <-time.After(cfg.Interval):
			}
			w.Advance()
		}
		// The load day gets a day start of its own.
		msg := protocol.DayStartedMsg{Type: protocol.TypeDayStarted, ProtocolVersion: protocol.Version, Clock: clock(w)}
		if err := exchange(conn, msg, w, &sum, logger); err != nil {
			return sum, err
		}
		sum.Days = i
	}
	w.Applied()
	return sum, nil
}

// exchange sends one host callback and applies the reply.
func exchange(conn *websocket.Conn, msg any, w *snapshot.World, sum *summary, logger *log.Logger) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	switch base.Type {
	case protocol.TypeApply:
		var apply protocol.ApplyMsg
		if err := json.Unmarshal(b, &apply); err != nil {
			return fmt.Errorf("decode APPLY: %w", err)
		}
		for _, e := range apply.Updates {
			u := aging.Update{Identity: e.Name, PrevAge: e.PrevAge, Age: e.Age, Bucket: e.Bucket}
			if e.Portrait != nil {
				u.Portrait = aging.AssetRef{Key: e.Portrait.Key, Path: e.Portrait.Path}
				u.HasPortrait = true
			}
			w.Apply(u)
			sum.Updates++
			if apply.Reason == "day_started" {
				sum.Birthdays++
				logger.Printf("%s: %s turns %d", apply.Clock.Season, e.Name, e.Age)
			}
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(b, &e)
		sum.Errors++
		logger.Printf("ERROR %s: %s", e.Code, e.Message)
	default:
		return fmt.Errorf("unexpected %s", base.Type)
	}
	return nil
}

func readTyped(conn *websocket.Conn, want string, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read %s: %w", want, err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	if base.Type != want {
		return fmt.Errorf("got %s want %s", base.Type, want)
	}
	return json.Unmarshal(b, v)
}

func clock(w *snapshot.World) protocol.Clock {
	now := w.Now()
	return protocol.Clock{Year: now.Year, Season: now.Season.String(), Day: now.Day}
}
