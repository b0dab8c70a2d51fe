package waitlist

import "fmt"

// StoreError reports a failed or unreachable shared store. It is the only
// error the coordinator produces; any (room, uid) pair is valid input.
type StoreError struct {
	Op   string
	Room string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("waitlist %s %q: %v", e.Op, e.Room, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, room string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Room: room, Err: err}
}
