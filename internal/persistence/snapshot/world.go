package snapshot

import (
	"aging.ai/internal/sim/aging"
	"aging.ai/internal/sim/calendar"
)

// World serves a loaded snapshot as the host world and calendar, writing
// applied updates back into it.
type World struct {
	snap    *SnapshotV1
	index   map[string][]int
	applied []aging.Update
}

func NewWorld(snap *SnapshotV1) *World {
	w := &World{snap: snap, index: map[string][]int{}}
	for i, c := range snap.Characters {
		w.index[c.Name] = append(w.index[c.Name], i)
	}
	return w
}

func (w *World) Characters() []aging.Character {
	out := make([]aging.Character, 0, len(w.snap.Characters))
	for _, c := range w.snap.Characters {
		out = append(out, aging.Character{
			Name:           c.Name,
			BirthdaySeason: c.BirthdaySeason,
			BirthdayDay:    c.BirthdayDay,
			Age:            c.Age,
			Portrait:       c.Portrait,
		})
	}
	return out
}

// Apply sets age and, when resolved, portrait on every character sharing
// the update's identity.
func (w *World) Apply(u aging.Update) {
	for _, i := range w.index[u.Identity] {
		c := &w.snap.Characters[i]
		c.Age = u.Age
		if u.HasPortrait {
			c.Portrait = u.Portrait.Key
		}
	}
	w.applied = append(w.applied, u)
}

func (w *World) Now() calendar.Moment {
	return calendar.Moment{
		Year: w.snap.Clock.Year,
		Date: calendar.NewDate(w.snap.Clock.Season, w.snap.Clock.Day),
	}
}

// Advance moves the snapshot clock to the next day.
func (w *World) Advance() calendar.Moment {
	next := w.Now().Next(w.snap.DaysPerSeason)
	w.snap.Clock = ClockV1{Year: next.Year, Season: next.Season.String(), Day: next.Day}
	return next
}

// Applied returns the updates applied since the last call.
func (w *World) Applied() []aging.Update {
	out := w.applied
	w.applied = nil
	return out
}

func (w *World) Snapshot() SnapshotV1 { return *w.snap }
