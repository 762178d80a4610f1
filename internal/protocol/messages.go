package protocol

// HELLO (host -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostName        string `json:"host_name"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	DaysPerSeason   int        `json:"days_per_season"`
	Catalog         CatalogRef `json:"catalog"`
}

type CatalogRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type Clock struct {
	Year   int    `json:"year"`
	Season string `json:"season"`
	Day    int    `json:"day"`
}

type CharacterState struct {
	Name           string `json:"name"`
	BirthdaySeason string `json:"birthday_season"`
	BirthdayDay    int    `json:"birthday_day"`
	Age            int    `json:"age"`
	Portrait       string `json:"portrait,omitempty"`
}

// SESSION_LOADED (host -> server): the world snapshot at save load.
type SessionLoadedMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Clock           Clock            `json:"clock"`
	Characters      []CharacterState `json:"characters"`
}

// DAY_STARTED (host -> server)
type DayStartedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Clock           Clock  `json:"clock"`
}

// APPLY (server -> host): desired ages and portraits.
type ApplyMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Reason          string        `json:"reason"`
	Clock           Clock         `json:"clock"`
	Updates         []UpdateEntry `json:"updates"`
}

type UpdateEntry struct {
	Name     string       `json:"name"`
	Age      int          `json:"age"`
	PrevAge  int          `json:"prev_age"`
	Bucket   int          `json:"bucket"`
	Portrait *PortraitRef `json:"portrait,omitempty"`
}

type PortraitRef struct {
	Key  string `json:"key"`
	Path string `json:"path,omitempty"`
}

// ERROR (server -> host)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
