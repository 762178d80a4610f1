package aging

import (
	"errors"
	"fmt"

	"aging.ai/internal/diag"
	"aging.ai/internal/sim/calendar"
)

// Record is one tracked, ageable character.
type Record struct {
	Identity    string
	Anniversary calendar.Date
	Age         int
	Portrait    AssetRef
	HasPortrait bool
}

// Registry owns the characters tracked during one host session. It is not
// safe for concurrent use; the host never overlaps its callbacks.
type Registry struct {
	engine  *Engine
	records []*Record
	byID    map[string]*Record
}

func NewRegistry(engine *Engine) *Registry {
	return &Registry{engine: engine, byID: map[string]*Record{}}
}

// OnSessionLoaded rebuilds the registry from the host world and pushes the
// initial ages and portraits back to it.
func (r *Registry) OnSessionLoaded(h Host) []Update {
	var chars []Character
	if h.World != nil {
		chars = h.World.Characters()
	}
	var now calendar.Moment
	if h.Calendar != nil {
		now = h.Calendar.Now()
	}
	updates := r.Rebuild(chars, now, h.Assets, h.sink())
	r.apply(h, updates)
	return updates
}

// OnDayStarted ages every tracked character whose anniversary is today by
// exactly one year and re-selects its portrait.
func (r *Registry) OnDayStarted(h Host) []Update {
	sink := h.sink()
	var today calendar.Date
	if h.Calendar != nil {
		today = h.Calendar.Now().Date
	}
	var updates []Update
	for _, rec := range r.records {
		rec := rec
		r.guard(sink, rec.Identity, func() {
			if !calendar.IsAnniversary(today, rec.Anniversary) {
				return
			}
			prev := rec.Age
			rec.Age++
			sink.Log(diag.LevelDebug, fmt.Sprintf("Aging %s to %d. Happy Birthday!", rec.Identity, rec.Age))
			updates = append(updates, r.refreshPortrait(rec, ReasonBirthday, prev, h.Assets, sink))
		})
	}
	r.apply(h, updates)
	return updates
}

// Rebuild discards all records and tracks every catalogued character with a
// birthday, computing its age fresh for now.
func (r *Registry) Rebuild(chars []Character, now calendar.Moment, assets AssetStore, sink diag.Sink) []Update {
	if sink == nil {
		sink = diag.Discard
	}
	r.records = r.records[:0]
	r.byID = make(map[string]*Record, len(chars))

	updates := make([]Update, 0, len(chars))
	for _, ch := range chars {
		ch := ch
		r.guard(sink, ch.Name, func() {
			if u, ok := r.track(ch, now, assets, sink); ok {
				updates = append(updates, u)
			}
		})
	}
	return updates
}

func (r *Registry) track(ch Character, now calendar.Moment, assets AssetStore, sink diag.Sink) (Update, bool) {
	if ch.BirthdayDay == 0 {
		sink.Log(diag.LevelTrace, fmt.Sprintf("%s has no birthday; not tracked", ch.Name))
		return Update{}, false
	}
	if _, dup := r.byID[ch.Name]; dup {
		sink.Log(diag.LevelDebug, fmt.Sprintf("%s appears more than once; keeping the first", ch.Name))
		return Update{}, false
	}
	anniversary := calendar.NewDate(ch.BirthdaySeason, ch.BirthdayDay)
	age, err := r.engine.ComputeAge(ch.Name, anniversary, now.Year, now.Date)
	if errors.Is(err, ErrNotAgeable) {
		sink.Log(diag.LevelDebug, fmt.Sprintf("%s is not found in age catalog", ch.Name))
		return Update{}, false
	}
	if err != nil {
		sink.Log(diag.LevelWarn, fmt.Sprintf("%s: compute age: %v", ch.Name, err))
		return Update{}, false
	}

	rec := &Record{
		Identity:    ch.Name,
		Anniversary: anniversary,
		Age:         age,
		Portrait:    AssetRef{Key: ch.Portrait},
		HasPortrait: ch.Portrait != "",
	}
	sink.Log(diag.LevelDebug, fmt.Sprintf("%s age is %d", rec.Identity, rec.Age))
	u := r.refreshPortrait(rec, ReasonSessionLoaded, ch.Age, assets, sink)

	// Tracked only once its initial update exists.
	r.records = append(r.records, rec)
	r.byID[rec.Identity] = rec
	return u, true
}

func (r *Registry) refreshPortrait(rec *Record, reason Reason, prevAge int, assets AssetStore, sink diag.Sink) Update {
	u := Update{
		Identity: rec.Identity,
		Reason:   reason,
		PrevAge:  prevAge,
		Age:      rec.Age,
		Bucket:   MilestoneBucket(rec.Age),
	}
	if ref, ok := r.engine.SelectPortrait(rec.Identity, rec.Age, assets, sink); ok {
		rec.Portrait = ref
		rec.HasPortrait = true
		u.Portrait = ref
		u.HasPortrait = true
	}
	return u
}

// guard isolates one character's processing from the rest of the callback.
func (r *Registry) guard(sink diag.Sink, identity string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			sink.Log(diag.LevelError, fmt.Sprintf("%s: aging aborted: %v", identity, p))
		}
	}()
	fn()
}

func (r *Registry) apply(h Host, updates []Update) {
	if h.World == nil {
		return
	}
	for _, u := range updates {
		u := u
		r.guard(h.sink(), u.Identity, func() { h.World.Apply(u) })
	}
}

func (r *Registry) Len() int { return len(r.records) }

func (r *Registry) Lookup(identity string) (Record, bool) {
	rec, ok := r.byID[identity]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns a copy of the tracked records in world order.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}
