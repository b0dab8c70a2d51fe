package store

import "time"

// Survey is the snapshot a check starts from, read in one transaction
type Survey struct {
	Participants int64    // participant hash length
	Waiting      int64    // waiting list length
	Rank         int64    // uid's rank in the waiting list, valid if Queued
	Queued       bool     // uid has a waiting-list entry
	Participant  bool     // uid already holds a seat
	Dropouts     []string // waiting members whose check-in went stale
}

// Position is a waiting-list rank read back after a write
type Position struct {
	Waiting int64
	Rank    int64
	Queued  bool
}

// millis is the score format used for check-ins
func millis(t time.Time) int64 { return t.UnixMilli() }
