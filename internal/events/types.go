package events

import (
	"time"

	"trading-authority/internal/domain"
)

// Event enumerates state changes published by the authority.
type Event string

const (
	EventModeSwitched      Event = "mode.switched"
	EventConfigChanged     Event = "config.changed"
	EventSystemOnboarded   Event = "system.onboarded"
	EventSystemReset       Event = "system.reset"
	EventKeyRotated        Event = "key.rotated"
	EventExecutionRecorded Event = "execution.recorded"
)

// All lists every event, for subscribers that log the whole stream.
var All = []Event{
	EventModeSwitched,
	EventConfigChanged,
	EventSystemOnboarded,
	EventSystemReset,
	EventKeyRotated,
	EventExecutionRecorded,
}

// ModeSwitched is published after a committed mode change.
type ModeSwitched struct {
	From    domain.OperatingMode
	To      domain.OperatingMode
	Version int64
	At      time.Time
}

// ConfigChanged is published after a committed configuration write. It never carries the value.
type ConfigChanged struct {
	Key       string
	Category  string
	Encrypted bool
	Version   int64
}

// StatusChanged is the payload of system.onboarded and system.reset.
type StatusChanged struct {
	Status domain.StatusSnapshot
}

// KeyRotated is published after a committed master key rotation.
type KeyRotated struct {
	Version   int
	Rewrapped int
	RotatedAt time.Time
}
