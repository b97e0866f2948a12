package models

import "time"

// Reading is one normalized observation of the upstream balance cell.
type Reading struct {
	Value      float64
	ObservedAt time.Time
}

// StableValue is the authoritative balance exposed to observers.
// Set is false until the first value has been confirmed.
type StableValue struct {
	Value         float64   `json:"value"`
	Set           bool      `json:"set"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// BalanceChange is emitted once per confirmed change of the stable value.
type BalanceChange struct {
	Seq       uint64    `json:"seq"`
	Value     float64   `json:"value"`
	Previous  *float64  `json:"previous,omitempty"`
	Formatted string    `json:"formatted"`
	At        time.Time `json:"at"`
}

// Connectivity summarises the recent health of the upstream read channel.
type Connectivity string

const (
	ConnOnline   Connectivity = "online"
	ConnDegraded Connectivity = "degraded"
	ConnOffline  Connectivity = "offline"
)

// PollFailure describes one failed poll; informational only.
type PollFailure struct {
	Reason            string       `json:"reason"`
	Detail            string       `json:"detail,omitempty"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	Connectivity      Connectivity `json:"connectivity"`
	At                time.Time    `json:"at"`
}

// ScheduleState is owned by the scheduler.
type ScheduleState struct {
	NextDelay         time.Duration
	ConsecutiveErrors int
	InFlight          bool
}
