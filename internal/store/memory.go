package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"waiting-room/pkg/clock"
)

// Memory is a single-process store with the same transactional contract as
// Redis: each method runs under one lock. Expiry is evaluated lazily
// against the injected clock.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	keys  map[string]*entry
}

type entry struct {
	hash    map[string][]byte
	zset    map[string]int64
	expires time.Time // zero = no expiry
}

// NewMemory returns an empty store
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	return &Memory{clock: c, keys: map[string]*entry{}}
}

// get returns the live entry for key, dropping it if it expired
func (m *Memory) get(key string) *entry {
	e := m.keys[key]
	if e == nil {
		return nil
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.keys, key)
		return nil
	}
	return e
}

func (m *Memory) hash(key string) map[string][]byte {
	e := m.get(key)
	if e == nil {
		e = &entry{hash: map[string][]byte{}}
		m.keys[key] = e
	}
	return e.hash
}

func (m *Memory) zset(key string) map[string]int64 {
	e := m.get(key)
	if e == nil {
		e = &entry{zset: map[string]int64{}}
		m.keys[key] = e
	}
	return e.zset
}

func (m *Memory) expire(key string, ttl time.Duration) {
	if e := m.get(key); e != nil {
		e.expires = m.clock.Now().Add(ttl)
	}
}

// gc drops a key whose collection became empty
func (m *Memory) gc(key string) {
	if e := m.keys[key]; e != nil && len(e.hash) == 0 && len(e.zset) == 0 {
		delete(m.keys, key)
	}
}

func (m *Memory) hlen(key string) int64 {
	if e := m.get(key); e != nil {
		return int64(len(e.hash))
	}
	return 0
}

func (m *Memory) zcard(key string) int64 {
	if e := m.get(key); e != nil {
		return int64(len(e.zset))
	}
	return 0
}

// ordered lists members by score, ties by member
func (m *Memory) ordered(key string) []string {
	e := m.get(key)
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.zset))
	for member := range e.zset {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := e.zset[out[i]], e.zset[out[j]]
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out
}

func (m *Memory) zrank(key, member string) (int64, bool) {
	for i, mb := range m.ordered(key) {
		if mb == member {
			return int64(i), true
		}
	}
	return 0, false
}

func (m *Memory) zrem(key string, members ...string) {
	e := m.get(key)
	if e == nil {
		return
	}
	for _, mb := range members {
		delete(e.zset, mb)
	}
	m.gc(key)
}

func (m *Memory) Survey(_ context.Context, room, uid string, staleBefore time.Time) (Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	out := Survey{
		Participants: m.hlen(k.Participants),
		Waiting:      m.zcard(k.Waiting),
	}
	out.Rank, out.Queued = m.zrank(k.Waiting, uid)
	if e := m.get(k.Participants); e != nil {
		_, out.Participant = e.hash[uid]
	}
	cutoff := millis(staleBefore)
	for _, mb := range m.ordered(k.Checkin) {
		if m.keys[k.Checkin].zset[mb] > cutoff {
			break
		}
		out.Dropouts = append(out.Dropouts, mb)
	}
	return out, nil
}

func (m *Memory) Purge(_ context.Context, room, uid string, dropouts []string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	m.zrem(k.Checkin, dropouts...)
	m.zrem(k.Waiting, dropouts...)
	pos := Position{Waiting: m.zcard(k.Waiting)}
	pos.Rank, pos.Queued = m.zrank(k.Waiting, uid)
	return pos, nil
}

func (m *Memory) Promote(_ context.Context, room, uid string, now time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	m.zset(k.Waiting)[uid] = 0
	m.expire(k.Waiting, ttl)
	m.zset(k.Checkin)[uid] = millis(now)
	m.expire(k.Checkin, ttl)
	return nil
}

func (m *Memory) Enqueue(_ context.Context, room, uid string, now time.Time, ttl time.Duration) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	score := int64(1)
	if order := m.ordered(k.Waiting); len(order) > 0 {
		score = m.keys[k.Waiting].zset[order[len(order)-1]] + 1
	}
	waiting := m.zset(k.Waiting)
	if _, ok := waiting[uid]; !ok {
		waiting[uid] = score
	}
	m.expire(k.Waiting, ttl)
	m.zset(k.Checkin)[uid] = millis(now)
	m.expire(k.Checkin, ttl)

	var pos Position
	pos.Rank, pos.Queued = m.zrank(k.Waiting, uid)
	return pos, nil
}

func (m *Memory) Refresh(_ context.Context, room, uid string, now time.Time, ttl time.Duration) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	m.zset(k.Checkin)[uid] = millis(now)
	m.expire(k.Checkin, ttl)

	var pos Position
	pos.Rank, pos.Queued = m.zrank(k.Waiting, uid)
	return pos, nil
}

func (m *Memory) Admit(_ context.Context, room, uid string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	m.hash(k.Participants)[uid] = append([]byte(nil), payload...)
	m.expire(k.Participants, ttl)
	m.zrem(k.Waiting, uid)
	m.zrem(k.Checkin, uid)
	return nil
}

func (m *Memory) Release(_ context.Context, room, uid string, checkin time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)

	if e := m.get(k.Participants); e != nil {
		delete(e.hash, uid)
		m.gc(k.Participants)
	}
	m.zset(k.Waiting)[uid] = 0
	m.expire(k.Waiting, ttl)
	m.zset(k.Checkin)[uid] = millis(checkin)
	m.expire(k.Checkin, ttl)
	return nil
}

func (m *Memory) IsParticipant(_ context.Context, room, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(RoomKeys(room).Participants)
	if e == nil {
		return false, nil
	}
	_, ok := e.hash[uid]
	return ok, nil
}

func (m *Memory) Count(_ context.Context, room string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hlen(RoomKeys(room).Participants), nil
}

func (m *Memory) Participants(_ context.Context, room string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(RoomKeys(room).Participants)
	if e == nil {
		return nil, nil
	}
	out := make([][]byte, 0, len(e.hash))
	for _, v := range e.hash {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// RemoveParticipant unseats uid without filing a ticket. It models a seat
// freed out of band (TTL expiry, admin kick) and is used by tests.
func (m *Memory) RemoveParticipant(room, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := RoomKeys(room)
	if e := m.get(k.Participants); e != nil {
		delete(e.hash, uid)
		m.gc(k.Participants)
	}
}
