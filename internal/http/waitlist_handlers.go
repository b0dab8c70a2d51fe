package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"waiting-room/internal/waitlist"
	"waiting-room/pkg/auth"
)

// Waitlist is what the HTTP API reads from the coordinator
type Waitlist interface {
	Check(ctx context.Context, room, uid string) (waitlist.Status, error)
	Count(ctx context.Context, room string) (int64, error)
	Participants(ctx context.Context, room string) ([][]byte, error)
}

type WaitlistAPI struct {
	WL  Waitlist
	Log *slog.Logger
}

type participantsResp struct {
	Count        int64             `json:"count"`
	Participants []json.RawMessage `json:"participants"`
}

// Status checks the session user in and reports whether they may enter.
// Waiting clients poll this to hold their place.
func (a *WaitlistAPI) Status(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	uid := auth.UserID(r.Context())
	if room == "" || uid == "" {
		http.Error(w, "room and session required", http.StatusBadRequest)
		return
	}

	st, err := a.WL.Check(r.Context(), room, uid)
	if err != nil {
		a.fail(w, "http.waiting_list", room, err)
		return
	}
	writeJSON(w, st)
}

// Participants lists the seated users of a room
func (a *WaitlistAPI) Participants(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}

	payloads, err := a.WL.Participants(r.Context(), room)
	if err != nil {
		a.fail(w, "http.participants", room, err)
		return
	}
	resp := participantsResp{
		Count:        int64(len(payloads)),
		Participants: make([]json.RawMessage, 0, len(payloads)),
	}
	for _, p := range payloads {
		if !json.Valid(p) {
			a.Log.Warn("http.participants.skip", "room", room)
			continue
		}
		resp.Participants = append(resp.Participants, json.RawMessage(p))
	}
	writeJSON(w, resp)
}

// fail maps store errors to 503 and anything else to 500
func (a *WaitlistAPI) fail(w http.ResponseWriter, event, room string, err error) {
	a.Log.Error(event, "room", room, "err", err)
	var se *waitlist.StoreError
	if errors.As(err, &se) {
		http.Error(w, "waiting list unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
