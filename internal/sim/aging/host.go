package aging

import (
	"aging.ai/internal/diag"
	"aging.ai/internal/sim/calendar"
)

// Character is the host's raw view of one world character.
type Character struct {
	Name           string
	BirthdaySeason string
	BirthdayDay    int
	Age            int
	Portrait       string
}

// AssetRef is a loadable portrait reference handed out by an AssetStore.
type AssetRef struct {
	Key  string
	Path string
}

type Reason string

const (
	ReasonSessionLoaded Reason = "session_loaded"
	ReasonBirthday      Reason = "birthday"
)

// Update is the desired state for one character. Portrait is only meaningful
// when HasPortrait is set; otherwise the host keeps the current portrait.
type Update struct {
	Identity    string
	Reason      Reason
	PrevAge     int
	Age         int
	Bucket      int
	Portrait    AssetRef
	HasPortrait bool
}

// World enumerates characters and applies desired state back onto them.
type World interface {
	Characters() []Character
	Apply(Update)
}

// Calendar reports the in-world date at the moment a callback fires.
type Calendar interface {
	Now() calendar.Moment
}

// AssetStore answers whether a portrait exists for an identity and milestone
// bucket. A missing asset is (AssetRef{}, false, nil).
type AssetStore interface {
	Resolve(identity string, bucket int) (AssetRef, bool, error)
}

// AgeCatalog is the gate deciding which identities age at all.
type AgeCatalog interface {
	BaseAge(identity string) (int, bool)
}

// Host bundles the collaborator handles passed to each callback.
type Host struct {
	World    World
	Calendar Calendar
	Assets   AssetStore
	Diag     diag.Sink
}

func (h Host) sink() diag.Sink {
	if h.Diag == nil {
		return diag.Discard
	}
	return h.Diag
}
