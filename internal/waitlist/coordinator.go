// Package waitlist admits users into capacity-limited rooms and keeps an
// ordered, self-healing waiting list for everyone else.
//
// All state lives in the shared store. Each step that must be atomic is a
// single store call; steps of one Check are separate calls and tolerate
// other writers in between, correcting themselves on the next Check.
package waitlist

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"waiting-room/internal/store"
	"waiting-room/pkg/clock"
	"waiting-room/pkg/metrics"
)

// Store is the shared state the coordinator runs against. Every method is
// one all-or-nothing transaction.
type Store interface {
	Survey(ctx context.Context, room, uid string, staleBefore time.Time) (store.Survey, error)
	Purge(ctx context.Context, room, uid string, dropouts []string) (store.Position, error)
	Promote(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) error
	Enqueue(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) (store.Position, error)
	Refresh(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) (store.Position, error)
	Admit(ctx context.Context, room, uid string, payload []byte, ttl time.Duration) error
	Release(ctx context.Context, room, uid string, checkin time.Time, ttl time.Duration) error
	IsParticipant(ctx context.Context, room, uid string) (bool, error)
	Count(ctx context.Context, room string) (int64, error)
	Participants(ctx context.Context, room string) ([][]byte, error)
}

// Coordinator runs check/connect/disconnect against a Store
type Coordinator struct {
	store Store
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	// ctx is the parent of deferred confirmations; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[*confirmation]struct{}
	closed  bool
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock, typically with clock.Fake in tests
func WithClock(c clock.Clock) Option { return func(co *Coordinator) { co.clock = c } }

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(co *Coordinator) { co.log = l } }

// New returns a Coordinator. Zero durations in cfg take their defaults.
func New(st Store, cfg Config, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:   st,
		cfg:     cfg.withDefaults(),
		clock:   clock.Real(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:     ctx,
		cancel:  cancel,
		pending: map[*confirmation]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config { return c.cfg }

// Check decides whether uid may enter room now or must wait, and where.
// It never reserves a seat; Connect does that.
func (c *Coordinator) Check(ctx context.Context, room, uid string) (Status, error) {
	now := c.clock.Now()
	capacity := int64(c.cfg.Capacity)

	sv, err := c.store.Survey(ctx, room, uid, now.Add(-c.cfg.DropoutWindow))
	if err != nil {
		return Status{}, storeErr("survey", room, err)
	}
	participants := sv.Participants
	waiting, rank, queued := sv.Waiting, sv.Rank, sv.Queued

	// A room with no seats admits nobody, not even existing participants.
	if capacity > 0 {
		if sv.Participant {
			return c.ready(room, uid, "participant"), nil
		}
		if participants+waiting < capacity {
			return c.ready(room, uid, "capacity"), nil
		}

		if len(sv.Dropouts) > 0 {
			pos, err := c.store.Purge(ctx, room, uid, sv.Dropouts)
			if err != nil {
				return Status{}, storeErr("purge", room, err)
			}
			metrics.DropoutsPurged.Add(float64(len(sv.Dropouts)))
			c.log.Debug("waitlist.dropouts.purged", "room", room, "count", len(sv.Dropouts))

			waiting, rank, queued = pos.Waiting, pos.Rank, pos.Queued
			if participants+waiting < capacity {
				return c.ready(room, uid, "capacity"), nil
			}
		}

		if queued && participants+rank < capacity {
			if err := c.store.Promote(ctx, room, uid, now, c.cfg.WaitingTTL); err != nil {
				return Status{}, storeErr("promote", room, err)
			}
			metrics.Tickets.Inc()
			c.log.Debug("waitlist.ticket", "room", room, "uid", uid, "rank", rank)
			return c.ready(room, uid, "ticket"), nil
		}
	}

	var pos store.Position
	if queued {
		pos, err = c.store.Refresh(ctx, room, uid, now, c.cfg.WaitingTTL)
	} else {
		pos, err = c.store.Enqueue(ctx, room, uid, now, c.cfg.WaitingTTL)
	}
	if err != nil {
		return Status{}, storeErr("enqueue", room, err)
	}
	// Someone purged us between steps; report the rank we last saw.
	if pos.Queued {
		rank = pos.Rank
	}

	st := waitingStatus(rank - (capacity - participants))
	metrics.Checks.WithLabelValues(string(Waiting)).Inc()
	c.log.Debug("waitlist.waiting", "room", room, "uid", uid, "rank", st.Rank)
	return st, nil
}

func (c *Coordinator) ready(room, uid, reason string) Status {
	metrics.Checks.WithLabelValues(string(Ready)).Inc()
	c.log.Debug("waitlist.ready", "room", room, "uid", uid, "reason", reason)
	return readyStatus()
}

// Connect seats uid with payload and removes it from the waiting list.
// Capacity is not enforced; callers connect after a Ready check or on an
// explicit reconnect.
func (c *Coordinator) Connect(ctx context.Context, room, uid string, payload []byte) error {
	if err := c.store.Admit(ctx, room, uid, payload, c.cfg.ParticipantTTL); err != nil {
		return storeErr("connect", room, err)
	}
	c.log.Debug("waitlist.connect", "room", room, "uid", uid)
	return nil
}

// Count returns the number of participants in room
func (c *Coordinator) Count(ctx context.Context, room string) (int64, error) {
	n, err := c.store.Count(ctx, room)
	return n, storeErr("count", room, err)
}

// Participants returns the payloads of everyone seated in room
func (c *Coordinator) Participants(ctx context.Context, room string) ([][]byte, error) {
	p, err := c.store.Participants(ctx, room)
	return p, storeErr("participants", room, err)
}
