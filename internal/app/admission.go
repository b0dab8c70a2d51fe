package app

import (
	"time"

	"waiting-room/internal/waitlist"
)

// Waitlist converts the admission section into coordinator settings
func (a Admission) Waitlist() waitlist.Config {
	return waitlist.Config{
		Capacity:         a.Capacity,
		DropoutWindow:    time.Duration(a.DropoutWindowMs) * time.Millisecond,
		DisconnectBuffer: time.Duration(a.DisconnectBufferMs) * time.Millisecond,
		WaitingTTL:       time.Duration(a.WaitingSetTTLSec) * time.Second,
		ParticipantTTL:   time.Duration(a.ParticipantTTLSec) * time.Second,
	}
}
