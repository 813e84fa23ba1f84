package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/fakeengine"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesOneRoutingContextUnderConcurrency(t *testing.T) {
	engine := fakeengine.New()
	engine.CreateDelay = 20 * time.Millisecond
	rooms := NewRoomRegistry(engine, 10)

	const callers = 32
	got := make([]*core.Room, callers)
	releases := make([]func(), callers)
	var wg conc.WaitGroup
	for i := range callers {
		wg.Go(func() {
			room, release, err := rooms.Acquire(context.Background(), "r1")
			assert.NoError(t, err)
			got[i] = room
			releases[i] = release
		})
	}
	wg.Wait()

	require.Equal(t, 1, engine.Created("r1"))
	for _, r := range got {
		require.Same(t, got[0], r)
	}

	// held rooms survive TryRemove even without members
	require.False(t, rooms.TryRemove("r1"))
	for _, release := range releases {
		release()
	}
	_, ok := rooms.Get("r1")
	require.False(t, ok)
	require.True(t, engine.Routers()[0].Closed())
}

func TestReleaseKeepsRoomWithMembers(t *testing.T) {
	engine := fakeengine.New()
	rooms := NewRoomRegistry(engine, 10)

	room, release, err := rooms.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, room.Do(func(s *core.Scope) error {
		s.AddMember("s1")
		return nil
	}))
	release()
	release()

	got, ok := rooms.Get("r1")
	require.True(t, ok)
	require.Same(t, room, got)
	require.False(t, rooms.TryRemove("r1"))

	require.NoError(t, room.Do(func(s *core.Scope) error {
		s.RemoveMember("s1")
		return nil
	}))
	require.True(t, rooms.TryRemove("r1"))
	require.True(t, rooms.TryRemove("r1"))
	require.Zero(t, rooms.Len())

	again, release2, err := rooms.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	defer release2()
	require.NotSame(t, room, again)
	require.Equal(t, 2, engine.Created("r1"))
}

type failingEngine struct {
	*fakeengine.Engine
	fail bool
}

func (f *failingEngine) CreateRoutingContext(ctx context.Context, id domain.RoomID) (core.RoutingContext, error) {
	if f.fail {
		return nil, errors.New("no worker")
	}
	return f.Engine.CreateRoutingContext(ctx, id)
}

func TestAcquireFailureFreesSlot(t *testing.T) {
	engine := &failingEngine{Engine: fakeengine.New(), fail: true}
	rooms := NewRoomRegistry(engine, 10)

	_, _, err := rooms.Acquire(context.Background(), "r1")
	require.Error(t, err)
	require.Zero(t, rooms.Len())

	engine.fail = false
	_, release, err := rooms.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	release()
}

func TestAcquireWaiterHonorsContext(t *testing.T) {
	engine := fakeengine.New()
	engine.CreateDelay = 200 * time.Millisecond
	rooms := NewRoomRegistry(engine, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, release, err := rooms.Acquire(context.Background(), "r1")
		if err == nil {
			release()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := rooms.Acquire(ctx, "r1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
	require.Equal(t, 1, engine.Created("r1"))
}

func TestEventsReachHandler(t *testing.T) {
	engine := fakeengine.New()
	rooms := NewRoomRegistry(engine, 10)
	got := make(chan core.EngineEvent, 4)
	rooms.OnEngineEvent(func(_ *core.Room, ev core.EngineEvent) { got <- ev })

	room, release, err := rooms.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	defer release()

	tr, err := room.Routing().CreateTransport(context.Background())
	require.NoError(t, err)
	tr.(*fakeengine.Transport).Fail()

	select {
	case ev := <-got:
		require.Equal(t, core.TransportClosed, ev.Type)
		require.Equal(t, tr.ID(), ev.ID)
		require.Equal(t, core.ReasonFailed, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestCloseTearsDownEveryRoom(t *testing.T) {
	engine := fakeengine.New()
	rooms := NewRoomRegistry(engine, 10)
	for _, id := range []string{"a", "b", "c"} {
		room, release, err := rooms.Acquire(context.Background(), domain.RoomID(id))
		require.NoError(t, err)
		require.NoError(t, room.Do(func(s *core.Scope) error {
			s.AddMember("s1")
			return nil
		}))
		release()
	}
	require.Len(t, rooms.Snapshot(), 3)

	require.NoError(t, rooms.Close(context.Background()))
	require.Zero(t, rooms.Len())
	for _, r := range engine.Routers() {
		require.True(t, r.Closed())
	}
	_, _, err := rooms.Acquire(context.Background(), "a")
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestProducersByRoomListsEveryRoom(t *testing.T) {
	rooms := NewRoomRegistry(fakeengine.New(), 10)
	t.Cleanup(func() { _ = rooms.Close(context.Background()) })
	for _, id := range []domain.RoomID{"quiet", "busy"} {
		room, release, err := rooms.Acquire(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, room.Do(func(s *core.Scope) error {
			s.AddMember("s1")
			if id == "busy" {
				s.AddProducer(&core.ProducerEntry{ID: "p1", Owner: "s1", Kind: domain.MediaKindAudio})
			}
			return nil
		}))
		release()
	}

	got := rooms.ProducersByRoom()
	require.Len(t, got, 2)
	require.NotNil(t, got["quiet"])
	assert.Empty(t, got["quiet"])
	assert.Equal(t, []core.ProducerInfo{{ProducerID: "p1", Kind: domain.MediaKindAudio, OwnerSessionID: "s1"}}, got["busy"])
}
