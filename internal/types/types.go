package types

// Status is a user's availability as shown in presence lists.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// User is the identity bound to a connection at handshake time. The relay
// never mints identities itself; they arrive already authenticated.
type User struct {
	Id       string `json:"userId"`
	Username string `json:"username"`
}

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// PresenceEntry is one row of the full-state presence list broadcast to a
// room whenever membership or status changes.
type PresenceEntry struct {
	UserId      string `json:"userId"`
	Username    string `json:"username"`
	Status      Status `json:"status"`
	CurrentFile string `json:"currentFile,omitempty"`
}
