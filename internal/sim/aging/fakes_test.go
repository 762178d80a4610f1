package aging

import (
	"errors"

	"aging.ai/internal/sim/calendar"
)

type fakeWorld struct {
	chars   []Character
	applied []Update
}

func (w *fakeWorld) Characters() []Character { return w.chars }
func (w *fakeWorld) Apply(u Update)          { w.applied = append(w.applied, u) }

type fakeCalendar struct{ now calendar.Moment }

func (c *fakeCalendar) Now() calendar.Moment { return c.now }

// mapAssets has an asset for every key in have.
type mapAssets struct {
	have  map[string]bool
	calls int
}

func (m *mapAssets) Resolve(identity string, bucket int) (AssetRef, bool, error) {
	m.calls++
	key := PortraitKey(identity, bucket)
	if !m.have[key] {
		return AssetRef{}, false, nil
	}
	return AssetRef{Key: key, Path: identity + "/" + key + ".png"}, true, nil
}

type failingAssets struct{}

func (failingAssets) Resolve(string, int) (AssetRef, bool, error) {
	return AssetRef{}, false, errors.New("disk on fire")
}

type panickyAssets struct{ victim string }

func (p panickyAssets) Resolve(identity string, bucket int) (AssetRef, bool, error) {
	if identity == p.victim {
		panic("corrupt texture")
	}
	return AssetRef{Key: PortraitKey(identity, bucket)}, true, nil
}

type staticCatalog map[string]int

func (c staticCatalog) BaseAge(identity string) (int, bool) {
	age, ok := c[identity]
	return age, ok
}

func moment(year int, season calendar.Season, day int) calendar.Moment {
	return calendar.Moment{Year: year, Date: calendar.Date{Season: season, Day: day}}
}
