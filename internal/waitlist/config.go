package waitlist

import "time"

// Config holds the admission parameters shared by every room
type Config struct {
	Capacity         int
	DropoutWindow    time.Duration // waiting entries not checked in for this long are purged
	DisconnectBuffer time.Duration // default reconnect grace for Disconnect
	WaitingTTL       time.Duration // expiry of the waiting and check-in sets
	ParticipantTTL   time.Duration // expiry of the participant hash
}

// DefaultConfig returns the production constants for a room of capacity seats
func DefaultConfig(capacity int) Config {
	return Config{
		Capacity:         capacity,
		DropoutWindow:    30 * time.Second,
		DisconnectBuffer: 3 * time.Second,
		WaitingTTL:       time.Hour,
		ParticipantTTL:   6 * time.Hour,
	}
}

// withDefaults fills zero durations from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Capacity)
	if c.DropoutWindow <= 0 {
		c.DropoutWindow = d.DropoutWindow
	}
	if c.DisconnectBuffer <= 0 {
		c.DisconnectBuffer = d.DisconnectBuffer
	}
	if c.WaitingTTL <= 0 {
		c.WaitingTTL = d.WaitingTTL
	}
	if c.ParticipantTTL <= 0 {
		c.ParticipantTTL = d.ParticipantTTL
	}
	return c
}
