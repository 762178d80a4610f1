package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aging.ai/internal/diag"
	persistlog "aging.ai/internal/persistence/log"
	"aging.ai/internal/protocol"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
	"aging.ai/internal/sim/catalogs"
)

// Index receives session and update records for the read model. Drop-on-full
// implementations are fine; nothing is read back.
type Index interface {
	RecordSession(sessionID, hostName string, at calendar.Moment, tracked int)
	RecordUpdates(sessionID string, at calendar.Moment, updates []aging.Update)
}

type Config struct {
	Catalog       *catalogs.AgeCatalog
	DaysPerSeason int
	Assets        aging.AssetStore

	// Optional sinks.
	Diag      *persistlog.DiagLogger
	MinLevel  diag.Level
	AgeEvents *persistlog.AgeEventLogger
	Index     Index

	CheckOrigin func(r *http.Request) bool
}

type Metrics struct {
	Sessions       int64
	SessionsTotal  uint64
	UpdatesTotal   uint64
	BirthdaysTotal uint64
	MissesTotal    uint64
	ErrorsTotal    uint64
}

type Server struct {
	cfg    Config
	engine *aging.Engine
	log    *log.Logger

	upgrader websocket.Upgrader

	sessions       atomic.Int64
	sessionsTotal  atomic.Uint64
	updatesTotal   atomic.Uint64
	birthdaysTotal atomic.Uint64
	missesTotal    atomic.Uint64
	errorsTotal    atomic.Uint64
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	if cfg.DaysPerSeason <= 0 {
		cfg.DaysPerSeason = calendar.DefaultDaysPerSeason
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true } // dev default
	}
	var cat aging.AgeCatalog
	if cfg.Catalog != nil {
		cat = cfg.Catalog
	}
	return &Server{
		cfg:    cfg,
		engine: aging.NewEngine(cat),
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		Sessions:       s.sessions.Load(),
		SessionsTotal:  s.sessionsTotal.Load(),
		UpdatesTotal:   s.updatesTotal.Load(),
		BirthdaysTotal: s.birthdaysTotal.Load(),
		MissesTotal:    s.missesTotal.Load(),
		ErrorsTotal:    s.errorsTotal.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		s.sessionsTotal.Add(1)
		defer s.sessions.Add(-1)
		s.logf("session %s: host %q connected", sess.id, sess.hostName)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, 8)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Host callbacks are handled strictly in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.logf("session %s: host %q disconnected (tracked=%d)", sess.id, sess.hostName, sess.registry.Len())
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.HostName == "" {
		hello.HostName = "host"
	}

	sess := s.newSession(uuid.NewString(), hello.HostName)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		DaysPerSeason:   s.cfg.DaysPerSeason,
	}
	if s.cfg.Catalog != nil {
		welcome.Catalog = protocol.CatalogRef{Digest: s.cfg.Catalog.Digest, Count: s.cfg.Catalog.Len()}
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

// handle processes one host message and returns the reply, if any.
func (s *Server) handle(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return s.errorMsg(protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.ProtocolVersion != protocol.Version {
		return s.errorMsg(protocol.ErrProtoVersion, fmt.Sprintf("protocol_version %q not supported", base.ProtocolVersion))
	}

	switch base.Type {
	case protocol.TypeSessionLoaded:
		var m protocol.SessionLoadedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.errorMsg(protocol.ErrProtoBadRequest, "bad SESSION_LOADED")
		}
		if m.Clock.Year < 1 || m.Clock.Day < 1 {
			return s.errorMsg(protocol.ErrBadClock, "clock year and day must be >= 1")
		}
		now := clockMoment(m.Clock)
		sess.world.load(m.Characters, now)
		updates := sess.registry.OnSessionLoaded(sess.host())
		sess.loaded = true
		if s.cfg.Index != nil {
			s.cfg.Index.RecordSession(sess.id, sess.hostName, now, sess.registry.Len())
		}
		return s.apply(sess, protocol.TypeSessionLoaded, now, updates)

	case protocol.TypeDayStarted:
		var m protocol.DayStartedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.errorMsg(protocol.ErrProtoBadRequest, "bad DAY_STARTED")
		}
		if !sess.loaded {
			return s.errorMsg(protocol.ErrNoSession, "DAY_STARTED before SESSION_LOADED")
		}
		if m.Clock.Year < 1 || m.Clock.Day < 1 {
			return s.errorMsg(protocol.ErrBadClock, "clock year and day must be >= 1")
		}
		now := clockMoment(m.Clock)
		sess.world.now = now
		updates := sess.registry.OnDayStarted(sess.host())
		return s.apply(sess, protocol.TypeDayStarted, now, updates)

	default:
		return s.errorMsg(protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type))
	}
}

func (s *Server) apply(sess *session, trigger string, now calendar.Moment, updates []aging.Update) protocol.ApplyMsg {
	reason := string(aging.ReasonSessionLoaded)
	if trigger == protocol.TypeDayStarted {
		reason = "day_started"
	}
	out := protocol.ApplyMsg{
		Type:            protocol.TypeApply,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Reason:          reason,
		Clock:           protocol.Clock{Year: now.Year, Season: now.Season.String(), Day: now.Day},
		Updates:         make([]protocol.UpdateEntry, 0, len(updates)),
	}
	for _, u := range updates {
		e := protocol.UpdateEntry{Name: u.Identity, Age: u.Age, PrevAge: u.PrevAge, Bucket: u.Bucket}
		if u.HasPortrait {
			e.Portrait = &protocol.PortraitRef{Key: u.Portrait.Key, Path: u.Portrait.Path}
		} else {
			s.missesTotal.Add(1)
		}
		if u.Reason == aging.ReasonBirthday {
			s.birthdaysTotal.Add(1)
		}
		out.Updates = append(out.Updates, e)

		if s.cfg.AgeEvents != nil {
			if err := s.cfg.AgeEvents.WriteUpdate(sess.id, now, u); err != nil {
				s.logf("session %s: age event log: %v", sess.id, err)
			}
		}
	}
	s.updatesTotal.Add(uint64(len(updates)))
	if s.cfg.Index != nil {
		s.cfg.Index.RecordUpdates(sess.id, now, updates)
	}
	return out
}

func (s *Server) errorMsg(code, msg string) protocol.ErrorMsg {
	s.errorsTotal.Add(1)
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func clockMoment(c protocol.Clock) calendar.Moment {
	return calendar.Moment{Year: c.Year, Date: calendar.NewDate(c.Season, c.Day)}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
