package store

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps room state in redis. Every method is one MULTI/EXEC or one
// script call.
type Redis struct {
	rdb *redis.Client
	log *slog.Logger
}

// Dial connects to redis and verifies connectivity
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NewRedis wraps a connected client
func NewRedis(rdb *redis.Client, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

// exec runs fn inside MULTI/EXEC. A nil reply (absent rank) is not a failure.
func (s *Redis) exec(ctx context.Context, fn func(redis.Pipeliner) error) error {
	cmds, err := s.rdb.TxPipelined(ctx, fn)
	if err == nil {
		return nil
	}
	for _, cmd := range cmds {
		if e := cmd.Err(); e != nil && !errors.Is(e, redis.Nil) {
			return e
		}
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// rankOf unpacks a ZRANK reply
func rankOf(cmd *redis.IntCmd) (int64, bool, error) {
	r, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return r, true, nil
}

// Survey reads counts, uid's rank and membership, and stale check-ins
func (s *Redis) Survey(ctx context.Context, room, uid string, staleBefore time.Time) (Survey, error) {
	k := RoomKeys(room)
	var (
		hlen    *redis.IntCmd
		zcard   *redis.IntCmd
		zrank   *redis.IntCmd
		hexists *redis.BoolCmd
		stale   *redis.StringSliceCmd
	)
	err := s.exec(ctx, func(pipe redis.Pipeliner) error {
		hlen = pipe.HLen(ctx, k.Participants)
		zcard = pipe.ZCard(ctx, k.Waiting)
		zrank = pipe.ZRank(ctx, k.Waiting, uid)
		hexists = pipe.HExists(ctx, k.Participants, uid)
		stale = pipe.ZRangeByScore(ctx, k.Checkin, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(millis(staleBefore), 10),
		})
		return nil
	})
	if err != nil {
		return Survey{}, err
	}

	out := Survey{
		Participants: hlen.Val(),
		Waiting:      zcard.Val(),
		Participant:  hexists.Val(),
		Dropouts:     stale.Val(),
	}
	if out.Rank, out.Queued, err = rankOf(zrank); err != nil {
		return Survey{}, err
	}
	return out, nil
}

// Purge removes dropouts from both sets and re-reads the list length and uid's rank
func (s *Redis) Purge(ctx context.Context, room, uid string, dropouts []string) (Position, error) {
	k := RoomKeys(room)
	members := make([]interface{}, len(dropouts))
	for i, m := range dropouts {
		members[i] = m
	}

	var zcard, zrank *redis.IntCmd
	err := s.exec(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			pipe.ZRem(ctx, k.Checkin, members...)
			pipe.ZRem(ctx, k.Waiting, members...)
		}
		zcard = pipe.ZCard(ctx, k.Waiting)
		zrank = pipe.ZRank(ctx, k.Waiting, uid)
		return nil
	})
	if err != nil {
		return Position{}, err
	}

	pos := Position{Waiting: zcard.Val()}
	if pos.Rank, pos.Queued, err = rankOf(zrank); err != nil {
		return Position{}, err
	}
	s.log.Debug("store.purge", "room", room, "removed", len(dropouts))
	return pos, nil
}

// Promote turns uid's entry into a ticket (score 0) and refreshes its check-in
func (s *Redis) Promote(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) error {
	k := RoomKeys(room)
	return s.exec(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k.Waiting, redis.Z{Score: 0, Member: uid})
		pipe.Expire(ctx, k.Waiting, ttl)
		pipe.ZAdd(ctx, k.Checkin, redis.Z{Score: float64(millis(now)), Member: uid})
		pipe.Expire(ctx, k.Checkin, ttl)
		return nil
	})
}

// enqueueScript appends ARGV[1] one past the current tail score (1 on an
// empty list), refreshes its check-in and returns its rank. NX keeps an
// existing entry (e.g. a ticket) in place. Redis runs the script
// atomically, so concurrent appenders always get distinct scores.
var enqueueScript = redis.NewScript(`
local tail = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
local score = 1
if #tail > 0 then
  score = tonumber(tail[2]) + 1
end
redis.call('ZADD', KEYS[1], 'NX', score, ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return redis.call('ZRANK', KEYS[1], ARGV[1])
`)

// Enqueue appends uid after the current tail, refreshes its check-in and
// returns its rank
func (s *Redis) Enqueue(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) (Position, error) {
	k := RoomKeys(room)
	rank, err := enqueueScript.Run(ctx, s.rdb,
		[]string{k.Waiting, k.Checkin},
		uid, millis(now), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return Position{}, err
	}
	return Position{Rank: rank, Queued: true}, nil
}

// Refresh bumps uid's check-in and reads back its rank
func (s *Redis) Refresh(ctx context.Context, room, uid string, now time.Time, ttl time.Duration) (Position, error) {
	k := RoomKeys(room)
	var zrank *redis.IntCmd
	err := s.exec(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k.Checkin, redis.Z{Score: float64(millis(now)), Member: uid})
		pipe.Expire(ctx, k.Checkin, ttl)
		zrank = pipe.ZRank(ctx, k.Waiting, uid)
		return nil
	})
	if err != nil {
		return Position{}, err
	}
	var pos Position
	if pos.Rank, pos.Queued, err = rankOf(zrank); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// Admit seats uid with payload and drops its waiting-list entry and check-in
func (s *Redis) Admit(ctx context.Context, room, uid string, payload []byte, ttl time.Duration) error {
	k := RoomKeys(room)
	return s.exec(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.Participants, uid, payload)
		pipe.Expire(ctx, k.Participants, ttl)
		pipe.ZRem(ctx, k.Waiting, uid)
		pipe.ZRem(ctx, k.Checkin, uid)
		return nil
	})
}

// Release unseats uid and files it as a ticket with the given check-in time
func (s *Redis) Release(ctx context.Context, room, uid string, checkin time.Time, ttl time.Duration) error {
	k := RoomKeys(room)
	return s.exec(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, k.Participants, uid)
		pipe.ZAdd(ctx, k.Waiting, redis.Z{Score: 0, Member: uid})
		pipe.Expire(ctx, k.Waiting, ttl)
		pipe.ZAdd(ctx, k.Checkin, redis.Z{Score: float64(millis(checkin)), Member: uid})
		pipe.Expire(ctx, k.Checkin, ttl)
		return nil
	})
}

// IsParticipant reports whether uid holds a seat
func (s *Redis) IsParticipant(ctx context.Context, room, uid string) (bool, error) {
	return s.rdb.HExists(ctx, RoomKeys(room).Participants, uid).Result()
}

// Count returns the number of seated participants
func (s *Redis) Count(ctx context.Context, room string) (int64, error) {
	return s.rdb.HLen(ctx, RoomKeys(room).Participants).Result()
}

// Participants returns every participant payload
func (s *Redis) Participants(ctx context.Context, room string) ([][]byte, error) {
	vals, err := s.rdb.HVals(ctx, RoomKeys(room).Participants).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
