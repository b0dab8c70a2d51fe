package ws

import (
	"encoding/json"
	"time"
)

// Participant is the payload stored for a seated user
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	JoinedAt int64  `json:"joinedAt"` // unix ms
}

func participantPayload(uid, name string, now time.Time) []byte {
	b, _ := json.Marshal(Participant{ID: uid, Name: name, JoinedAt: now.UnixMilli()})
	return b
}

type countEvent struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type leftEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func encodeCount(n int64) []byte {
	b, _ := json.Marshal(countEvent{Type: "count", Count: n})
	return b
}

func encodeLeft(uid string) []byte {
	b, _ := json.Marshal(leftEvent{Type: "disconnected", ID: uid})
	return b
}
