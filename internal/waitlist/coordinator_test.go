package waitlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"waiting-room/internal/store"
	"waiting-room/pkg/clock"
	"waiting-room/pkg/metrics"
)

const capacity = 10

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	co    *Coordinator
	st    Store
	clock *clock.FakeClock
	room  string
	// free unseats a participant without filing a ticket, like a seat
	// expiring or an operator removing it
	free func(uid string)
}

type fixtureFactory func(t *testing.T, cfg Config) *fixture

func memoryFixture(t *testing.T, cfg Config) *fixture {
	c := clock.Fake(epoch)
	m := store.NewMemory(c)
	room := "room-mem"
	return &fixture{
		co:    New(m, cfg, WithClock(c), WithLogger(discard())),
		st:    m,
		clock: c,
		room:  room,
		free:  func(uid string) { m.RemoveParticipant(room, uid) },
	}
}

func redisFixture(t *testing.T, cfg Config) *fixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := clock.Fake(epoch)
	r := store.NewRedis(rdb, discard())
	room := "room-redis"
	return &fixture{
		co:    New(r, cfg, WithClock(c), WithLogger(discard())),
		st:    r,
		clock: c,
		room:  room,
		free:  func(uid string) { mr.HDel(room+":participants", uid) },
	}
}

var factories = map[string]fixtureFactory{
	"memory": memoryFixture,
	"redis":  redisFixture,
}

// each runs fn against every store implementation with a fresh fixture
func each(t *testing.T, cfg Config, fn func(t *testing.T, f *fixture)) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			f := factory(t, cfg)
			t.Cleanup(f.co.Close)
			fn(t, f)
		})
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func userIDs(count, from int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("user%d", from+i)
	}
	return ids
}

func (f *fixture) seat(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := f.co.Connect(context.Background(), f.room, id, []byte("user info")); err != nil {
			t.Fatalf("Connect(%s): %v", id, err)
		}
	}
}

func (f *fixture) check(t *testing.T, uid string) Status {
	t.Helper()
	st, err := f.co.Check(context.Background(), f.room, uid)
	if err != nil {
		t.Fatalf("Check(%s): %v", uid, err)
	}
	return st
}

func (f *fixture) checkAll(t *testing.T, ids ...string) map[string]Status {
	t.Helper()
	out := make(map[string]Status, len(ids))
	for _, id := range ids {
		out[id] = f.check(t, id)
	}
	return out
}

func (f *fixture) survey(t *testing.T, uid string) store.Survey {
	t.Helper()
	sv, err := f.st.Survey(context.Background(), f.room, uid, f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Survey: %v", err)
	}
	return sv
}

func wantReady(t *testing.T, uid string, st Status) {
	t.Helper()
	if !st.IsReady() {
		t.Errorf("%s: got %+v, want ready", uid, st)
	}
}

func wantWaiting(t *testing.T, uid string, st Status, rank int64) {
	t.Helper()
	if st.Verdict != Waiting || st.Rank != rank {
		t.Errorf("%s: got %+v, want waiting rank %d", uid, st, rank)
	}
}

func TestCheck_EmptyRoomIsReady(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		wantReady(t, "1", f.check(t, "1"))
	})
}

func TestCheck_BelowCapacityDoesNotQueue(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(5, 0)...)
		wantReady(t, "user5", f.check(t, "user5"))

		sv := f.survey(t, "user5")
		if sv.Waiting != 0 || sv.Queued || len(sv.Dropouts) != 0 {
			t.Errorf("ready check mutated waiting state: %+v", sv)
		}
	})
}

func TestCheck_FullRoom(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(10, 0)...)

		wantWaiting(t, "user10", f.check(t, "user10"), 0)
		before := f.survey(t, "user3")
		wantReady(t, "user3", f.check(t, "user3"))

		// survey counts every check-in as stale, so Dropouts lists them all
		after := f.survey(t, "user3")
		if after.Queued || after.Waiting != before.Waiting || len(after.Dropouts) != 1 || after.Dropouts[0] != "user10" {
			t.Errorf("participant check mutated waiting state: before %+v, after %+v", before, after)
		}
	})
}

func TestCheck_ConcurrentNewcomers(t *testing.T) {
	const n = 50
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(capacity, 0)...)
		ids := userIDs(n, capacity)

		var wg sync.WaitGroup
		statuses := make([]Status, n)
		errs := make([]error, n)
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				statuses[i], errs[i] = f.co.Check(context.Background(), f.room, id)
			}(i, id)
		}
		wg.Wait()

		seen := map[int64]string{}
		for i, id := range ids {
			if errs[i] != nil {
				t.Fatalf("Check(%s): %v", id, errs[i])
			}
			if statuses[i].IsReady() {
				t.Fatalf("%s admitted into a full room", id)
			}
			if other, dup := seen[statuses[i].Rank]; dup {
				t.Errorf("%s and %s share rank %d", id, other, statuses[i].Rank)
			}
			seen[statuses[i].Rank] = id
		}
		for r := int64(0); r < n; r++ {
			if _, ok := seen[r]; !ok {
				t.Errorf("no user at rank %d", r)
			}
		}
		if sv := f.survey(t, ids[0]); sv.Waiting != n {
			t.Errorf("waiting = %d, want %d", sv.Waiting, n)
		}
	})
}

func TestCheck_RanksByArrival(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(10, 0)...)
		statuses := f.checkAll(t, userIDs(5, 10)...)
		for i, id := range userIDs(5, 10) {
			wantWaiting(t, id, statuses[id], int64(i))
		}
	})
}

func TestCheck_RepeatedCheckKeepsPlace(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)

		for i := 0; i < 3; i++ {
			f.clock.Advance(5 * time.Second)
			wantWaiting(t, "user12", f.check(t, "user12"), 2)
		}
	})
}

func TestCheck_SeatFreed(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)
		f.free("user0")

		wantReady(t, "user10", f.check(t, "user10"))
		wantWaiting(t, "user12", f.check(t, "user12"), 1)
	})
}

func TestConnect_SeatsAndDequeues(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)
		f.free("user0")

		if err := f.co.Connect(ctx, f.room, "user10", []byte(`{"data":"data"}`)); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		sv := f.survey(t, "user10")
		if !sv.Participant || sv.Queued {
			t.Errorf("connected user: %+v", sv)
		}

		n, err := f.co.Count(ctx, f.room)
		if err != nil || n != 10 {
			t.Errorf("Count = %d, %v; want 10", n, err)
		}
		payloads, err := f.co.Participants(ctx, f.room)
		if err != nil {
			t.Fatalf("Participants: %v", err)
		}
		found := false
		for _, p := range payloads {
			if string(p) == `{"data":"data"}` {
				found = true
			}
		}
		if !found || len(payloads) != 10 {
			t.Errorf("participants = %q", payloads)
		}
	})
}

func TestDisconnect_TicketGoesToFront(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)
		f.free("user0")
		f.checkAll(t, userIDs(5, 10)...)

		var outcome *bool
		err := f.co.Disconnect(ctx, f.room, "user1", time.Millisecond, func(disconnected bool, err error) {
			if err != nil {
				t.Errorf("confirmation error: %v", err)
			}
			outcome = &disconnected
		})
		if err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		f.clock.Advance(time.Millisecond)
		if outcome == nil || !*outcome {
			t.Fatalf("confirmation = %v, want disconnected", outcome)
		}

		if ok, _ := f.st.IsParticipant(ctx, f.room, "user1"); ok {
			t.Error("user1 still a participant")
		}
		if r1, r10 := f.survey(t, "user1"), f.survey(t, "user10"); !r1.Queued || r1.Rank >= r10.Rank {
			t.Errorf("user1 rank %d (queued=%v) not ahead of user10 rank %d", r1.Rank, r1.Queued, r10.Rank)
		}
		wantReady(t, "user1", f.check(t, "user1"))
	})
}

func TestDisconnect_ReconnectWithinBuffer(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)

		var outcome *bool
		err := f.co.Disconnect(ctx, f.room, "user1", 100*time.Millisecond, func(disconnected bool, err error) {
			if err != nil {
				t.Errorf("confirmation error: %v", err)
			}
			outcome = &disconnected
		})
		if err != nil {
			t.Fatalf("Disconnect: %v", err)
		}

		f.clock.Advance(10 * time.Millisecond)
		if err := f.co.Connect(ctx, f.room, "user1", []byte(`{"data":"data"}`)); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if outcome != nil {
			t.Fatal("confirmation fired before the buffer elapsed")
		}

		f.clock.Advance(90 * time.Millisecond)
		if outcome == nil || *outcome {
			t.Fatalf("confirmation = %v, want reconnected", outcome)
		}
		if sv := f.survey(t, "user1"); sv.Queued {
			t.Error("reconnected user left a ticket behind")
		}
	})
}

func TestDisconnect_DefaultBufferAndPending(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.seat(t, "a", "b")

		fired := 0
		done := func(bool, error) { fired++ }
		if err := f.co.Disconnect(ctx, f.room, "b", 0, done); err != nil {
			t.Fatalf("Disconnect(b): %v", err)
		}
		if err := f.co.Disconnect(ctx, f.room, "a", time.Second, done); err != nil {
			t.Fatalf("Disconnect(a): %v", err)
		}

		pending := f.co.Pending()
		if len(pending) != 2 {
			t.Fatalf("pending = %+v, want 2 entries", pending)
		}
		if pending[0].UID != "a" || !pending[0].Due.Equal(epoch.Add(time.Second)) {
			t.Errorf("first pending = %+v", pending[0])
		}
		if pending[1].UID != "b" || pending[1].Room != f.room || !pending[1].Due.Equal(epoch.Add(3*time.Second)) {
			t.Errorf("second pending = %+v", pending[1])
		}

		f.clock.Advance(2900 * time.Millisecond)
		if fired != 1 || len(f.co.Pending()) != 1 {
			t.Fatalf("after 2.9s fired=%d pending=%d", fired, len(f.co.Pending()))
		}
		f.clock.Advance(100 * time.Millisecond)
		if fired != 2 || len(f.co.Pending()) != 0 {
			t.Fatalf("after 3s fired=%d pending=%d", fired, len(f.co.Pending()))
		}
	})
}

func TestDisconnect_HalfGraceForTickets(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)
		if err := f.co.Disconnect(ctx, f.room, "user1", time.Millisecond, nil); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}

		// 16s later the ticket's backdated check-in (now-15s) is stale, the
		// regular waiters' check-ins are not.
		f.clock.Advance(16 * time.Second)
		wantReady(t, "user10", f.check(t, "user10"))
		if sv := f.survey(t, "user1"); sv.Queued {
			t.Error("abandoned ticket was not purged")
		}
		if sv := f.survey(t, "user14"); !sv.Queued {
			t.Error("fresh waiter was purged")
		}
	})
}

// Five users queue, three keep checking in, two seats free up, and the two
// silent users drop out of line.
func TestCheck_DropoutsAreSkipped(t *testing.T) {
	each(t, DefaultConfig(capacity), func(t *testing.T, f *fixture) {
		f.seat(t, userIDs(10, 0)...)
		f.checkAll(t, userIDs(5, 10)...)

		f.clock.Advance(15 * time.Second)
		f.checkAll(t, "user10", "user12", "user13")
		f.free("user0")
		f.free("user1")

		f.clock.Advance(10 * time.Second)
		f.checkAll(t, "user10", "user12", "user13")
		f.clock.Advance(25 * time.Second)

		purged := testutil.ToFloat64(metrics.DropoutsPurged)
		statuses := f.checkAll(t, userIDs(5, 10)...)

		wantReady(t, "user10", statuses["user10"])
		wantReady(t, "user12", statuses["user12"])
		wantWaiting(t, "user13", statuses["user13"], 0)
		wantWaiting(t, "user11", statuses["user11"], 1)
		wantWaiting(t, "user14", statuses["user14"], 2)

		if got := testutil.ToFloat64(metrics.DropoutsPurged) - purged; got != 2 {
			t.Errorf("dropouts purged = %v, want 2", got)
		}
	})
}

func TestCheck_ZeroCapacityNeverAdmits(t *testing.T) {
	each(t, DefaultConfig(0), func(t *testing.T, f *fixture) {
		f.seat(t, "p")
		st := f.check(t, "p")
		if st.IsReady() {
			t.Errorf("participant admitted with capacity 0: %+v", st)
		}
		first := f.check(t, "a")
		second := f.check(t, "b")
		if first.IsReady() || second.IsReady() {
			t.Fatalf("capacity 0 admitted someone: %+v %+v", first, second)
		}
		if second.Rank <= first.Rank {
			t.Errorf("later arrival rank %d not behind %d", second.Rank, first.Rank)
		}
	})
}

func TestConfig_Defaults(t *testing.T) {
	co := New(store.NewMemory(nil), Config{Capacity: 4})
	defer co.Close()
	want := DefaultConfig(4)
	if got := co.Config(); got != want {
		t.Errorf("Config() = %+v, want %+v", got, want)
	}
}

// failingStore fails the operations named in fail
type failingStore struct {
	Store
	fail map[string]bool
}

var errBoom = errors.New("boom")

func (s failingStore) Survey(ctx context.Context, room, uid string, staleBefore time.Time) (store.Survey, error) {
	if s.fail["survey"] {
		return store.Survey{}, errBoom
	}
	return s.Store.Survey(ctx, room, uid, staleBefore)
}

func (s failingStore) IsParticipant(ctx context.Context, room, uid string) (bool, error) {
	if s.fail["confirm"] {
		return false, errBoom
	}
	return s.Store.IsParticipant(ctx, room, uid)
}

func TestCheck_StoreErrorPropagates(t *testing.T) {
	c := clock.Fake(epoch)
	co := New(failingStore{Store: store.NewMemory(c), fail: map[string]bool{"survey": true}}, DefaultConfig(capacity), WithClock(c))
	defer co.Close()

	_, err := co.Check(context.Background(), "r", "u")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StoreError", err)
	}
	if se.Op != "survey" || se.Room != "r" || !errors.Is(err, errBoom) {
		t.Errorf("unexpected error: %+v", se)
	}
}

func TestDisconnect_ConfirmErrorReachesCallback(t *testing.T) {
	c := clock.Fake(epoch)
	co := New(failingStore{Store: store.NewMemory(c), fail: map[string]bool{"confirm": true}}, DefaultConfig(capacity), WithClock(c), WithLogger(discard()))
	defer co.Close()

	var gotErr error
	disconnected := true
	if err := co.Disconnect(context.Background(), "r", "u", time.Second, func(d bool, err error) {
		disconnected, gotErr = d, err
	}); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	c.Advance(time.Second)
	if disconnected || !errors.Is(gotErr, errBoom) {
		t.Errorf("callback got (%v, %v), want (false, boom)", disconnected, gotErr)
	}
}

func TestClose_DropsPendingConfirmations(t *testing.T) {
	c := clock.Fake(epoch)
	co := New(store.NewMemory(c), DefaultConfig(capacity), WithClock(c))

	called := false
	_ = co.Disconnect(context.Background(), "r", "u", time.Second, func(bool, error) { called = true })
	co.Close()

	if len(co.Pending()) != 0 {
		t.Errorf("pending after Close: %+v", co.Pending())
	}
	if len(c.Pending()) != 0 {
		t.Errorf("clock timers left after Close: %v", c.Pending())
	}
	c.Advance(time.Minute)
	if called {
		t.Error("callback ran after Close")
	}
	if err := co.Disconnect(context.Background(), "r", "v", time.Second, func(bool, error) { called = true }); err != nil {
		t.Fatalf("Disconnect after Close: %v", err)
	}
	c.Advance(time.Minute)
	if called {
		t.Error("confirmation scheduled after Close")
	}
}
