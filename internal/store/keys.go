package store

// Keys names the three structures kept per room
type Keys struct {
	Participants string // hash uid -> payload
	Waiting      string // zset uid -> score, 0 = ticket
	Checkin      string // zset uid -> last seen unix ms
}

// RoomKeys returns the keys for a room
func RoomKeys(room string) Keys {
	return Keys{
		Participants: room + ":participants",
		Waiting:      room + ":waiting",
		Checkin:      room + ":checkin",
	}
}
