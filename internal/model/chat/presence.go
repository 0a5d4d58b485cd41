package chat

import "time"

// PresenceStatus 在线状态。
type PresenceStatus string

const (
	StatusOnline PresenceStatus = "online"
	StatusAway   PresenceStatus = "away"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	return s == StatusOnline || s == StatusAway
}

// Presence is the heartbeat record of one participant, keyed by ID.
type Presence struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Avatar     string         `json:"avatar,omitempty"`
	Status     PresenceStatus `json:"status"`
	LastActive time.Time      `json:"lastActive"`
}

// Expired reports whether the entry has not been refreshed within timeout.
func (p Presence) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastActive) >= timeout
}

// Companion is a simulated participant that keeps the room lively.
type Companion struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// Presence returns the companion's heartbeat entry at the given time.
func (c Companion) Presence(now time.Time) Presence {
	return Presence{
		ID:         c.ID,
		Name:       c.Name,
		Avatar:     c.Avatar,
		Status:     StatusOnline,
		LastActive: now,
	}
}
