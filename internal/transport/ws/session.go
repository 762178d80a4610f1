package ws

import (
	"log"

	"aging.ai/internal/diag"
	"aging.ai/internal/protocol"
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
)

// session is the per-connection state: one registry per loaded save.
type session struct {
	id       string
	hostName string
	loaded   bool

	registry *aging.Registry
	world    *remoteWorld
	assets   aging.AssetStore
	diag     diag.Sink
}

func (s *Server) newSession(id, hostName string) *session {
	var sinks []diag.Sink
	if s.log != nil {
		prefix := s.log.Prefix() + "[" + hostName + "] "
		sinks = append(sinks, diag.NewLogSink(log.New(s.log.Writer(), prefix, s.log.Flags()), s.cfg.MinLevel))
	}
	if s.cfg.Diag != nil {
		sinks = append(sinks, s.cfg.Diag.WithSession(id))
	}
	return &session{
		id:       id,
		hostName: hostName,
		registry: aging.NewRegistry(s.engine),
		world:    &remoteWorld{},
		assets:   s.cfg.Assets,
		diag:     diag.Tee(sinks...),
	}
}

func (sess *session) host() aging.Host {
	return aging.Host{
		World:    sess.world,
		Calendar: sess.world,
		Assets:   sess.assets,
		Diag:     sess.diag,
	}
}

// remoteWorld mirrors the host's last reported characters and clock. Applied
// updates are folded back into the mirror.
type remoteWorld struct {
	chars []aging.Character
	now   calendar.Moment
}

func (w *remoteWorld) load(chars []protocol.CharacterState, now calendar.Moment) {
	w.chars = w.chars[:0]
	for _, c := range chars {
		w.chars = append(w.chars, aging.Character{
			Name:           c.Name,
			BirthdaySeason: c.BirthdaySeason,
			BirthdayDay:    c.BirthdayDay,
			Age:            c.Age,
			Portrait:       c.Portrait,
		})
	}
	w.now = now
}

func (w *remoteWorld) Characters() []aging.Character {
	return append([]aging.Character(nil), w.chars...)
}

func (w *remoteWorld) Apply(u aging.Update) {
	for i := range w.chars {
		if w.chars[i].Name != u.Identity {
			continue
		}
		w.chars[i].Age = u.Age
		if u.HasPortrait {
			w.chars[i].Portrait = u.Portrait.Key
		}
	}
}

func (w *remoteWorld) Now() calendar.Moment { return w.now }
