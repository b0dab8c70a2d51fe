package waitlist

import (
	"context"
	"sort"
	"time"

	"waiting-room/pkg/clock"
	"waiting-room/pkg/metrics"
)

// DisconnectFunc receives the outcome of a deferred disconnect
// confirmation. disconnected is false when the user reconnected within the
// buffer or when err is set.
type DisconnectFunc func(disconnected bool, err error)

// Confirmation describes a scheduled disconnect check
type Confirmation struct {
	Room string
	UID  string
	Due  time.Time
}

type confirmation struct {
	Confirmation
	timer *clock.Timer
}

// Disconnect unseats uid and files it at the front of the waiting list
// with half the usual dropout grace. After buffer (the configured default
// when buffer <= 0) it checks whether uid came back and reports to done.
// done may be nil.
func (c *Coordinator) Disconnect(ctx context.Context, room, uid string, buffer time.Duration, done DisconnectFunc) error {
	now := c.clock.Now()
	checkin := now.Add(-c.cfg.DropoutWindow / 2)
	if err := c.store.Release(ctx, room, uid, checkin, c.cfg.WaitingTTL); err != nil {
		return storeErr("disconnect", room, err)
	}
	c.log.Debug("waitlist.disconnect", "room", room, "uid", uid)

	if buffer <= 0 {
		buffer = c.cfg.DisconnectBuffer
	}
	c.schedule(room, uid, now.Add(buffer), buffer, done)
	return nil
}

func (c *Coordinator) schedule(room, uid string, due time.Time, buffer time.Duration, done DisconnectFunc) {
	cf := &confirmation{Confirmation: Confirmation{Room: room, UID: uid, Due: due}}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending[cf] = struct{}{}
	c.mu.Unlock()

	t := c.clock.AfterFunc(buffer, func() { c.confirm(cf, done) })

	c.mu.Lock()
	if _, ok := c.pending[cf]; ok {
		cf.timer = t
	}
	c.mu.Unlock()
}

// confirm runs when a confirmation falls due
func (c *Coordinator) confirm(cf *confirmation, done DisconnectFunc) {
	c.mu.Lock()
	_, live := c.pending[cf]
	delete(c.pending, cf)
	c.mu.Unlock()
	if !live {
		return
	}

	present, err := c.store.IsParticipant(c.ctx, cf.Room, cf.UID)
	err = storeErr("confirm", cf.Room, err)
	switch {
	case err != nil:
		metrics.Disconnects.WithLabelValues("error").Inc()
		c.log.Error("waitlist.disconnect.confirm", "room", cf.Room, "uid", cf.UID, "err", err)
	case present:
		metrics.Disconnects.WithLabelValues("reconnected").Inc()
		c.log.Debug("waitlist.disconnect.reconnected", "room", cf.Room, "uid", cf.UID)
	default:
		metrics.Disconnects.WithLabelValues("confirmed").Inc()
		c.log.Info("waitlist.disconnect.confirmed", "room", cf.Room, "uid", cf.UID)
	}

	if done != nil {
		done(err == nil && !present, err)
	}
}

// Pending lists confirmations that have not fired yet, earliest first
func (c *Coordinator) Pending() []Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Confirmation, 0, len(c.pending))
	for cf := range c.pending {
		out = append(out, cf.Confirmation)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].UID < out[j].UID
	})
	return out
}

// Close drops every pending confirmation without calling its callback.
// It is meant for process shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[*confirmation]struct{}{}
	c.mu.Unlock()

	for cf := range pending {
		if cf.timer != nil {
			cf.timer.Stop()
		}
	}
	c.cancel()
}
