package aging

import (
	"errors"
	"fmt"

	"aging.ai/internal/diag"
	"aging.ai/internal/sim/calendar"
)

// ErrNotAgeable is returned for identities the catalog does not know.
var ErrNotAgeable = errors.New("not ageable")

// BucketWidth is the age span covered by one portrait.
const BucketWidth = 5

type Engine struct {
	catalog AgeCatalog
}

func NewEngine(catalog AgeCatalog) *Engine {
	return &Engine{catalog: catalog}
}

// ComputeAge derives the displayed age for identity on today of year.
// Year 1 counts as zero elapsed years; one more year is counted once the
// anniversary has passed this year (the anniversary day itself is not past).
func (e *Engine) ComputeAge(identity string, anniversary calendar.Date, year int, today calendar.Date) (int, error) {
	if e == nil || e.catalog == nil {
		return 0, fmt.Errorf("%s: %w", identity, ErrNotAgeable)
	}
	base, ok := e.catalog.BaseAge(identity)
	if !ok {
		return 0, fmt.Errorf("%s: %w", identity, ErrNotAgeable)
	}
	if year < 1 {
		year = 1
	}
	elapsed := year - 1
	if calendar.IsAfterAnniversary(today, anniversary) {
		elapsed++
	}
	return base + elapsed, nil
}

// MilestoneBucket floors age to a multiple of BucketWidth. Negative ages
// map to bucket 0.
func MilestoneBucket(age int) int {
	if age < 0 {
		return 0
	}
	return age / BucketWidth * BucketWidth
}

// PortraitKey names the asset for identity at bucket, e.g. "Abigail_20".
func PortraitKey(identity string, bucket int) string {
	return fmt.Sprintf("%s_%d", identity, bucket)
}

// SelectPortrait resolves the portrait for identity at age. A miss or lookup
// failure emits exactly one diagnostic and reports false; the caller keeps
// the current portrait.
func (e *Engine) SelectPortrait(identity string, age int, assets AssetStore, sink diag.Sink) (AssetRef, bool) {
	if sink == nil {
		sink = diag.Discard
	}
	bucket := MilestoneBucket(age)
	if assets == nil {
		sink.Log(diag.LevelDebug, fmt.Sprintf("portrait %s does not exist (no asset store)", PortraitKey(identity, bucket)))
		return AssetRef{}, false
	}
	ref, ok, err := assets.Resolve(identity, bucket)
	if err != nil {
		sink.Log(diag.LevelWarn, fmt.Sprintf("portrait %s lookup failed: %v", PortraitKey(identity, bucket), err))
		return AssetRef{}, false
	}
	if !ok {
		sink.Log(diag.LevelDebug, fmt.Sprintf("portrait %s does not exist", PortraitKey(identity, bucket)))
		return AssetRef{}, false
	}
	return ref, true
}
