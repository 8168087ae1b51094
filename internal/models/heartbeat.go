package models

import "time"

// Heartbeat statuses.
const (
	HeartbeatOK      = "ok"
	HeartbeatSkipped = "skipped"
)

// Heartbeat is rewritten after every successful cycle for external liveness probes.
type Heartbeat struct {
	Timestamp time.Time              `json:"timestamp"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Age returns how old the heartbeat is at now.
func (h Heartbeat) Age(now time.Time) time.Duration {
	return now.Sub(h.Timestamp)
}

// Stale reports whether the heartbeat is older than maxAge.
func (h Heartbeat) Stale(now time.Time, maxAge time.Duration) bool {
	return h.Timestamp.IsZero() || h.Age(now) > maxAge
}
