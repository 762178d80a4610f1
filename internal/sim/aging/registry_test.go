package aging

import (
	"testing"

	"aging.ai/internal/diag"
	"aging.ai/internal/sim/calendar"
)

func newTestHost(chars []Character, now calendar.Moment, assets AssetStore) (Host, *fakeWorld, *fakeCalendar, *diag.Recorder) {
	w := &fakeWorld{chars: chars}
	c := &fakeCalendar{now: now}
	rec := &diag.Recorder{}
	return Host{World: w, Calendar: c, Assets: assets, Diag: rec}, w, c, rec
}

func TestOnSessionLoaded_TracksOnlyCataloguedCharactersWithBirthdays(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Shane": 30, "Emily": 27, "Marlon": 50}))
	chars := []Character{
		{Name: "Shane", BirthdaySeason: "spring", BirthdayDay: 20, Age: 0},
		{Name: "Krobus", BirthdaySeason: "winter", BirthdayDay: 1},
		{Name: "Emily", BirthdaySeason: "spring", BirthdayDay: 27},
		{Name: "Marlon", BirthdaySeason: "", BirthdayDay: 0},
	}
	h, w, _, rec := newTestHost(chars, moment(1, calendar.Spring, 1), &mapAssets{})

	updates := reg.OnSessionLoaded(h)
	if reg.Len() != 2 {
		t.Fatalf("tracked=%d want 2", reg.Len())
	}
	if _, ok := reg.Lookup("Krobus"); ok {
		t.Fatalf("Krobus should not be tracked")
	}
	if _, ok := reg.Lookup("Marlon"); ok {
		t.Fatalf("character without birthday should not be tracked")
	}
	if len(updates) != 2 || len(w.applied) != 2 {
		t.Fatalf("updates=%d applied=%d want 2,2", len(updates), len(w.applied))
	}
	if updates[0].Identity != "Shane" || updates[0].Age != 30 || updates[0].Reason != ReasonSessionLoaded {
		t.Fatalf("update[0]=%+v", updates[0])
	}
	if rec.Count("Krobus is not found in age catalog") != 1 {
		t.Fatalf("missing catalog-miss diagnostic: %+v", rec.Entries())
	}
}

func TestOnSessionLoaded_ScenarioAfterAnniversary(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Shane": 30}))
	assets := &mapAssets{have: map[string]bool{"Shane_30": true}}
	h, w, _, _ := newTestHost([]Character{{Name: "Shane", BirthdaySeason: "Summer", BirthdayDay: 10, Age: 30}},
		moment(3, calendar.Fall, 1), assets)

	reg.OnSessionLoaded(h)
	r, ok := reg.Lookup("Shane")
	if !ok {
		t.Fatalf("Shane not tracked")
	}
	if r.Age != 33 {
		t.Fatalf("age=%d want 33", r.Age)
	}
	if !r.HasPortrait || r.Portrait.Key != "Shane_30" {
		t.Fatalf("portrait=%+v want Shane_30", r.Portrait)
	}
	if u := w.applied[0]; u.PrevAge != 30 || u.Bucket != 30 || !u.HasPortrait {
		t.Fatalf("applied=%+v", u)
	}
}

func TestOnSessionLoaded_RebuildDiscardsPreviousSession(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Shane": 30, "Leah": 25}))
	h, w, _, _ := newTestHost([]Character{{Name: "Shane", BirthdaySeason: "Summer", BirthdayDay: 10}},
		moment(1, calendar.Spring, 1), nil)
	reg.OnSessionLoaded(h)

	w.chars = []Character{{Name: "Leah", BirthdaySeason: "Winter", BirthdayDay: 23}}
	reg.OnSessionLoaded(h)
	if reg.Len() != 1 {
		t.Fatalf("tracked=%d want 1", reg.Len())
	}
	if _, ok := reg.Lookup("Shane"); ok {
		t.Fatalf("Shane survived a rebuild")
	}
}

func TestOnSessionLoaded_DuplicateIdentityKeepsFirst(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Willy": 62}))
	h, _, _, _ := newTestHost([]Character{
		{Name: "Willy", BirthdaySeason: "Summer", BirthdayDay: 24},
		{Name: "Willy", BirthdaySeason: "Winter", BirthdayDay: 1},
	}, moment(1, calendar.Spring, 1), nil)

	updates := reg.OnSessionLoaded(h)
	if len(updates) != 1 || reg.Len() != 1 {
		t.Fatalf("updates=%d tracked=%d want 1,1", len(updates), reg.Len())
	}
	r, _ := reg.Lookup("Willy")
	if r.Anniversary != (calendar.Date{Season: calendar.Summer, Day: 24}) {
		t.Fatalf("anniversary=%v want Summer 24", r.Anniversary)
	}
}

func TestOnSessionLoaded_MissingPortraitKeepsCurrent(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Penny": 23}))
	h, w, _, rec := newTestHost([]Character{{Name: "Penny", BirthdaySeason: "Fall", BirthdayDay: 2, Portrait: "Portraits/Penny"}},
		moment(1, calendar.Spring, 1), &mapAssets{})

	reg.OnSessionLoaded(h)
	r, _ := reg.Lookup("Penny")
	if r.Portrait.Key != "Portraits/Penny" || !r.HasPortrait {
		t.Fatalf("portrait=%+v want unchanged", r.Portrait)
	}
	if w.applied[0].HasPortrait {
		t.Fatalf("update should not carry a portrait on a miss")
	}
	if n := rec.Count("does not exist"); n != 1 {
		t.Fatalf("miss diagnostics=%d want 1", n)
	}
}

func TestOnSessionLoaded_PanicIsIsolatedPerCharacter(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Sam": 21, "Vincent": 8}))
	h, _, _, rec := newTestHost([]Character{
		{Name: "Sam", BirthdaySeason: "Summer", BirthdayDay: 17},
		{Name: "Vincent", BirthdaySeason: "Spring", BirthdayDay: 10},
	}, moment(1, calendar.Spring, 1), panickyAssets{victim: "Sam"})

	updates := reg.OnSessionLoaded(h)
	if len(updates) != 1 || updates[0].Identity != "Vincent" {
		t.Fatalf("updates=%+v want only Vincent", updates)
	}
	if rec.Count("aging aborted") != 1 {
		t.Fatalf("expected one aborted diagnostic: %+v", rec.Entries())
	}
	if reg.Len() != 1 {
		t.Fatalf("tracked=%d want 1", reg.Len())
	}
	if _, ok := reg.Lookup("Sam"); ok {
		t.Fatalf("Sam has no initial update and must not be tracked")
	}
}

func TestOnDayStarted_IncrementsOnAnniversary(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Shane": 30, "Leah": 25}))
	assets := &mapAssets{have: map[string]bool{"Shane_30": true}}
	h, w, cal, rec := newTestHost([]Character{
		{Name: "Shane", BirthdaySeason: "Spring", BirthdayDay: 20},
		{Name: "Leah", BirthdaySeason: "Winter", BirthdayDay: 23},
	}, moment(5, calendar.Spring, 19), assets)
	reg.OnSessionLoaded(h)
	w.applied = nil

	cal.now = moment(5, calendar.Spring, 20)
	updates := reg.OnDayStarted(h)
	if len(updates) != 1 {
		t.Fatalf("updates=%d want 1", len(updates))
	}
	u := updates[0]
	if u.Identity != "Shane" || u.PrevAge != 34 || u.Age != 35 || u.Reason != ReasonBirthday || u.Bucket != 35 {
		t.Fatalf("update=%+v", u)
	}
	if len(w.applied) != 1 {
		t.Fatalf("applied=%d want 1", len(w.applied))
	}
	if rec.Count("Aging Shane to 35. Happy Birthday!") != 1 {
		t.Fatalf("missing birthday diagnostic")
	}
	if r, _ := reg.Lookup("Leah"); r.Age != 29 {
		t.Fatalf("Leah age=%d want 29", r.Age)
	}
}

func TestOnDayStarted_BirthdayPortraitMissKeepsPrevious(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Shane": 30}))
	assets := &mapAssets{have: map[string]bool{"Shane_30": true}}
	h, _, cal, _ := newTestHost([]Character{{Name: "Shane", BirthdaySeason: "Spring", BirthdayDay: 20}},
		moment(5, calendar.Spring, 19), assets)
	reg.OnSessionLoaded(h)

	cal.now = moment(5, calendar.Spring, 20)
	updates := reg.OnDayStarted(h)
	if updates[0].HasPortrait {
		t.Fatalf("no Shane_35 asset; update should not carry a portrait")
	}
	r, _ := reg.Lookup("Shane")
	if r.Portrait.Key != "Shane_30" {
		t.Fatalf("portrait=%q want Shane_30 kept", r.Portrait.Key)
	}
}

func TestOnDayStarted_NonAnniversaryIsIdempotent(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Robin": 44}))
	h, w, cal, _ := newTestHost([]Character{{Name: "Robin", BirthdaySeason: "Fall", BirthdayDay: 21}},
		moment(2, calendar.Spring, 1), nil)
	reg.OnSessionLoaded(h)
	w.applied = nil
	before, _ := reg.Lookup("Robin")

	cal.now = moment(2, calendar.Spring, 2)
	for i := 0; i < 2; i++ {
		if ups := reg.OnDayStarted(h); len(ups) != 0 {
			t.Fatalf("call %d: updates=%+v want none", i, ups)
		}
		if after, _ := reg.Lookup("Robin"); after.Age != before.Age {
			t.Fatalf("call %d: age=%d want %d", i, after.Age, before.Age)
		}
	}
	if len(w.applied) != 0 {
		t.Fatalf("applied=%d want 0", len(w.applied))
	}
}

func TestOnDayStarted_MalformedSeasonNeverAges(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Linus": 60}))
	h, _, cal, _ := newTestHost([]Character{{Name: "Linus", BirthdaySeason: "Smarch", BirthdayDay: 3}},
		moment(1, calendar.Spring, 1), nil)
	reg.OnSessionLoaded(h)
	if reg.Len() != 1 {
		t.Fatalf("malformed season should still be tracked")
	}
	for m := moment(1, calendar.Spring, 1); m.Year < 3; m = m.Next(calendar.DefaultDaysPerSeason) {
		cal.now = m
		if ups := reg.OnDayStarted(h); len(ups) != 0 {
			t.Fatalf("aged on %v", m)
		}
	}
}

// The daily increment and a fresh computation must agree: after day-start
// processing of day d, the tracked age equals ComputeAge for day d+1.
func TestOnDayStarted_AgreesWithFreshComputation(t *testing.T) {
	cat := staticCatalog{"Abigail": 20, "Evelyn": 76, "Jas": 8, "Clint": 40}
	engine := NewEngine(cat)
	chars := []Character{
		{Name: "Abigail", BirthdaySeason: "fall", BirthdayDay: 13},
		{Name: "Evelyn", BirthdaySeason: "winter", BirthdayDay: 20},
		{Name: "Jas", BirthdaySeason: "summer", BirthdayDay: 4},
		{Name: "Clint", BirthdaySeason: "winter", BirthdayDay: 26},
	}
	start := moment(1, calendar.Spring, 1)
	reg := NewRegistry(engine)
	h, _, cal, _ := newTestHost(chars, start, nil)
	reg.OnSessionLoaded(h)

	for m := start; m.Year <= 3; {
		cal.now = m
		reg.OnDayStarted(h)
		next := m.Next(calendar.DefaultDaysPerSeason)
		for _, r := range reg.Records() {
			want, err := engine.ComputeAge(r.Identity, r.Anniversary, next.Year, next.Date)
			if err != nil {
				t.Fatalf("ComputeAge: %v", err)
			}
			if r.Age != want {
				t.Fatalf("%s after %v: tracked=%d fresh(%v)=%d", r.Identity, m, r.Age, next, want)
			}
		}
		m = next
	}
}

func TestOnDayStarted_LoadedOnAnniversary(t *testing.T) {
	cat := staticCatalog{"Abigail": 20, "Jas": 8, "Krobus": 300}
	engine := NewEngine(cat)
	chars := []Character{
		{Name: "Abigail", BirthdaySeason: "Fall", BirthdayDay: 13},
		{Name: "Jas", BirthdaySeason: "Summer", BirthdayDay: 4},
		{Name: "Krobus", BirthdaySeason: "Winter", BirthdayDay: 28},
	}
	loads := map[string]calendar.Moment{
		"Abigail anniversary": moment(2, calendar.Fall, 13),
		"Jas anniversary":     moment(2, calendar.Summer, 4),
		"last day of year":    moment(1, calendar.Winter, 28),
	}
	for name, load := range loads {
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry(engine)
			h, _, cal, _ := newTestHost(chars, load, nil)
			reg.OnSessionLoaded(h)

			for m, i := load, 0; i < 2*4*calendar.DefaultDaysPerSeason; i++ {
				cal.now = m
				reg.OnDayStarted(h)
				next := m.Next(calendar.DefaultDaysPerSeason)
				for _, r := range reg.Records() {
					want, err := engine.ComputeAge(r.Identity, r.Anniversary, next.Year, next.Date)
					if err != nil {
						t.Fatalf("ComputeAge: %v", err)
					}
					if r.Age != want {
						t.Fatalf("%s after %v: tracked=%d fresh(%v)=%d", r.Identity, m, r.Age, next, want)
					}
				}
				m = next
			}
		})
	}
}

func TestRegistry_NilCollaborators(t *testing.T) {
	reg := NewRegistry(NewEngine(staticCatalog{"Sam": 21}))
	if ups := reg.OnSessionLoaded(Host{}); len(ups) != 0 {
		t.Fatalf("updates=%d want 0", len(ups))
	}
	if ups := reg.OnDayStarted(Host{}); len(ups) != 0 {
		t.Fatalf("updates=%d want 0", len(ups))
	}
}
