package ws

import (
	"context"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// BusMessage crosses instances. Origin lets an instance skip its own echo.
type BusMessage struct {
	Room    string `cbor:"1,keyasint"`
	Origin  string `cbor:"2,keyasint"`
	Payload []byte `cbor:"3,keyasint"`
}

// Bus fans room messages out to every instance
type Bus interface {
	Publish(ctx context.Context, m BusMessage) error
	Subscribe(ctx context.Context, fn func(BusMessage))
}

type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus publishes over an existing redis connection
func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log}
}

// Publish sends a message to the redis channel for a room
func (b *RedisBus) Publish(ctx context.Context, m BusMessage) error {
	raw, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(m.Room), raw).Err()
}

// Subscribe listens to all room channels and invokes fn for each message
// until ctx is cancelled
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm BusMessage
			if err := cbor.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus.decode", "channel", msg.Channel, "err", err)
				continue
			}
			if bm.Room != "" {
				fn(bm)
			}
		}
	}
}

// channel namespacing for room pub/sub
func channel(room string) string { return "waitroom:" + room }

// LocalBus is the bus of a single-instance deployment: there is nobody
// else to tell, so Publish is a no-op
type LocalBus struct{}

func (LocalBus) Publish(context.Context, BusMessage) error { return nil }

func (LocalBus) Subscribe(ctx context.Context, _ func(BusMessage)) { <-ctx.Done() }
