package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence/memory"
	"github.com/stretchr/testify/assert"
)

type capturingSink struct {
	mu      sync.Mutex
	actions []model.Action
}

func (s *capturingSink) Enqueue(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

type fixture struct {
	storage    *memory.Storage
	sink       *capturingSink
	dispatcher *Dispatcher
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		storage: memory.NewStorage(),
		sink:    &capturingSink{},
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.dispatcher = NewDispatcher(f.storage, StaticResolver{}, f.sink, DefaultConfig())
	f.dispatcher.SetClock(func() time.Time { return f.clock })
	assert.NoError(t, f.storage.SaveCheckpoint(f.clock.Add(-time.Minute)))
	return f
}

func (f *fixture) save(t *testing.T, msg model.ScheduledMessage) {
	t.Helper()
	if msg.TeamId == "" {
		msg.TeamId = "team-1"
	}
	if msg.Status == "" {
		msg.Status = model.SCHEDULED_MSG_SCHEDULED
	}
	assert.NoError(t, f.storage.SaveMessage(msg))
}

func TestOnceMessageFiresAndTransitionsToSent(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(-30 * time.Second)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Content:    "flash sale today",
		Recipients: model.RecipientSet{Type: "list", Ids: []string{"c1", "c2"}},
		Platforms:  []string{"whatsapp", "line"},
		Schedule:   model.Schedule{Type: model.SCHEDULE_ONCE, FireAt: &fireAt},
	})

	assert.NoError(t, f.dispatcher.Tick(context.Background()))

	// one send per target per platform
	assert.Equal(t, 4, f.sink.count())
	stored, err := f.storage.GetMessage("m1")
	assert.NoError(t, err)
	assert.Equal(t, model.SCHEDULED_MSG_SENT, stored.Status)
	assert.Equal(t, int64(4), stored.SentCount)
	assert.NotNil(t, stored.LastSent)

	// a later tick must not fire it again
	f.clock = f.clock.Add(time.Minute)
	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 4, f.sink.count())
}

func TestFutureMessageDoesNotFire(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(time.Hour)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Recipients: model.RecipientSet{Ids: []string{"c1"}},
		Schedule:   model.Schedule{Type: model.SCHEDULE_ONCE, FireAt: &fireAt},
	})

	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 0, f.sink.count())
}

func TestRecurringMessageKeepsFiring(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(-time.Minute)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Recipients: model.RecipientSet{Ids: []string{"c1"}},
		Platforms:  []string{"whatsapp"},
		Schedule:   model.Schedule{Type: model.SCHEDULE_RECURRING, FireAt: &fireAt, IntervalMinutes: 30},
	})

	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 1, f.sink.count())
	stored, _ := f.storage.GetMessage("m1")
	assert.Equal(t, model.SCHEDULED_MSG_SCHEDULED, stored.Status)

	// next interval not reached yet
	f.clock = f.clock.Add(10 * time.Minute)
	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 1, f.sink.count())

	f.clock = f.clock.Add(25 * time.Minute)
	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 2, f.sink.count())
}

func TestRecurringStopsAfterUntil(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(-time.Minute)
	until := f.clock.Add(20 * time.Minute)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Recipients: model.RecipientSet{Ids: []string{"c1"}},
		Schedule:   model.Schedule{Type: model.SCHEDULE_RECURRING, FireAt: &fireAt, IntervalMinutes: 30, Until: &until},
	})

	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 1, f.sink.count())

	f.clock = f.clock.Add(time.Hour)
	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 1, f.sink.count())
}

func TestCancelledMessageNeverFires(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(-time.Minute)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Status:     model.SCHEDULED_MSG_CANCELLED,
		Recipients: model.RecipientSet{Ids: []string{"c1"}},
		Schedule:   model.Schedule{Type: model.SCHEDULE_ONCE, FireAt: &fireAt},
	})

	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 0, f.sink.count())
}

func TestMissedTicksAreCaughtUp(t *testing.T) {
	f := newFixture(t)
	fireAt := f.clock.Add(-2 * time.Hour)
	f.save(t, model.ScheduledMessage{
		Id:         "m1",
		Recipients: model.RecipientSet{Ids: []string{"c1"}},
		Schedule:   model.Schedule{Type: model.SCHEDULE_ONCE, FireAt: &fireAt},
	})
	// checkpoint far in the past simulates a stopped process
	assert.NoError(t, f.storage.SaveCheckpoint(f.clock.Add(-3*time.Hour)))

	assert.NoError(t, f.dispatcher.Tick(context.Background()))
	assert.Equal(t, 1, f.sink.count())

	checkpoint, err := f.storage.GetCheckpoint()
	assert.NoError(t, err)
	assert.Equal(t, f.clock, checkpoint)
}
