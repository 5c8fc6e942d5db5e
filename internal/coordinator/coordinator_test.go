package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahxzhu/alarm-notify/internal/clock"
	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
	"github.com/noahxzhu/alarm-notify/internal/playback"
	"github.com/noahxzhu/alarm-notify/internal/storage"
)

// Friday 2026-10-16 08:00 UTC.
var start = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	announces []string
	sounds    []string
}

func (r *recorder) IsIdle(context.Context, playback.Endpoint) bool { return true }

func (r *recorder) Announce(_ context.Context, _ playback.Endpoint, text string) error {
	r.mu.Lock()
	r.announces = append(r.announces, text)
	r.mu.Unlock()
	return nil
}

func (r *recorder) PlaySound(_ context.Context, _ playback.Endpoint, sound string) error {
	r.mu.Lock()
	r.sounds = append(r.sounds, sound)
	r.mu.Unlock()
	return nil
}

func (r *recorder) announced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.announces...)
}

type pushes struct {
	mu    sync.Mutex
	sent  []string
	boxes [][]string
}

func (p *pushes) Notify(title, message string, devices []string) {
	p.mu.Lock()
	p.sent = append(p.sent, title+"|"+message)
	p.boxes = append(p.boxes, devices)
	p.mu.Unlock()
}

type allowList map[string]bool

func (a allowList) Resolvable(ep playback.Endpoint) bool { return a[ep.Ref] }

type fixture struct {
	c     *Coordinator
	clk   *clock.Fake
	store *storage.Memory
	rec   *recorder
}

func newFixture(t *testing.T, tweak ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clk:   clock.NewFake(start),
		store: storage.NewMemory(),
		rec:   &recorder{},
	}
	opts := Options{
		Clock:    f.clk,
		Location: time.UTC,
		Playback: playback.Options{
			RingWindow:   time.Hour,
			PollInterval: time.Millisecond,
			ErrorBackoff: time.Millisecond,
		},
		StopTimeout: time.Second,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	f.c = New(f.store, f.rec, opts, logx.Nop())
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) alarm(t *testing.T, name, at string) string {
	t.Helper()
	id, err := f.c.Schedule(context.Background(), ScheduleRequest{
		Kind:        model.KindAlarm,
		DisplayName: name,
		Time:        at,
		Targets:     model.Targets{Satellite: "bedroom"},
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) get(t *testing.T, id string) model.Item {
	t.Helper()
	it, ok := f.c.Get(id)
	require.True(t, ok, "item %s missing", id)
	return it
}

func (f *fixture) waitStatus(t *testing.T, id string, want model.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		it, ok := f.c.Get(id)
		return ok && it.Status == want
	}, 2*time.Second, 5*time.Millisecond, "item %s never reached %s", id, want)
}

func TestScheduleRollsPastTimeToTomorrow(t *testing.T) {
	f := newFixture(t)

	id := f.alarm(t, "", "07:00")
	assert.Equal(t, "alarm_1", id)

	it := f.get(t, id)
	assert.Equal(t, time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC), it.ScheduledTime)
	assert.Equal(t, model.StatusScheduled, it.Status)
	assert.Equal(t, "alarm_1", it.DisplayName)

	next, ok := f.clk.NextAt()
	require.True(t, ok)
	assert.Equal(t, it.ScheduledTime, next)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sat := model.Targets{Satellite: "bedroom"}

	tests := []struct {
		name string
		req  ScheduleRequest
		want error
	}{
		{"reminder without name", ScheduleRequest{Kind: model.KindReminder, Time: "14:00", Date: "2026-10-16", Targets: sat}, ErrInvalidInput},
		{"no targets", ScheduleRequest{Kind: model.KindAlarm, Time: "09:00"}, ErrInvalidTarget},
		{"notify devices only", ScheduleRequest{Kind: model.KindAlarm, Time: "09:00", Targets: model.Targets{NotifyDevices: []string{"phone"}}}, ErrInvalidTarget},
		{"bad time", ScheduleRequest{Kind: model.KindAlarm, Time: "25:99", Targets: sat}, ErrInvalidInput},
		{"bad date", ScheduleRequest{Kind: model.KindAlarm, Time: "09:00", Date: "16/10/2026", Targets: sat}, ErrInvalidInput},
		{"bad repeat", ScheduleRequest{Kind: model.KindAlarm, Time: "09:00", Targets: sat, Repeat: model.Repeat{Mode: "hourly"}}, ErrInvalidInput},
		{"explicit past date", ScheduleRequest{Kind: model.KindAlarm, Time: "07:00", Date: "2026-10-16", Targets: sat}, ErrPastSchedule},
		{"unknown kind", ScheduleRequest{Kind: "timer", Time: "09:00", Targets: sat}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.c.Schedule(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, id)
		})
	}

	assert.Empty(t, f.c.List())
	recs, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 0, f.clk.Pending())
}

func TestScheduleAcceptsTimeFormats(t *testing.T) {
	f := newFixture(t)
	for in, want := range map[string]time.Time{
		"09:15":    time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC),
		"21:30:10": time.Date(2026, 10, 16, 21, 30, 10, 0, time.UTC),
		"7:05 pm":  time.Date(2026, 10, 16, 19, 5, 0, 0, time.UTC),
		"6AM":      time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC),
	} {
		id := f.alarm(t, "", in)
		assert.Equal(t, want, f.get(t, id).ScheduledTime, in)
	}
}

func TestIDsFromNamesAndCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "wake_up", f.alarm(t, "Wake Up", "09:00"))
	assert.Equal(t, "wake_up_2", f.alarm(t, "wake-up", "09:05"))
	assert.Equal(t, "alarm_1", f.alarm(t, "", "09:10"))

	id, err := f.c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindReminder, DisplayName: "Wake up", Time: "10:00",
		Targets: model.Targets{MediaPlayers: []string{"kitchen"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "wake_up_3", id)
}

func TestFireStartsPlayback(t *testing.T) {
	pn := &pushes{}
	f := newFixture(t, func(o *Options) { o.Notifier = pn })
	id, err := f.c.Schedule(context.Background(), ScheduleRequest{
		Kind:        model.KindAlarm,
		DisplayName: "Wake Up",
		Time:        "08:30",
		Message:     strPtr("Time for the gym"),
		Targets:     model.Targets{Satellite: "bedroom", NotifyDevices: []string{"phone"}},
	})
	require.NoError(t, err)

	f.clk.Advance(30 * time.Minute)
	assert.Equal(t, model.StatusActive, f.get(t, id).Status)

	require.Eventually(t, func() bool { return len(f.rec.announced()) > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "It's 8:30 AM. Wake Up. Time for the gym", f.rec.announced()[0])

	pn.mu.Lock()
	assert.Equal(t, []string{"Alarm|It's 8:30 AM. Wake Up. Time for the gym"}, pn.sent)
	assert.Equal(t, [][]string{{"phone"}}, pn.boxes)
	pn.mu.Unlock()

	recs, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, recs[id].Status)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "Wake Up", "08:30")
	f.clk.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return len(f.rec.announced()) > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.c.Stop(ctx, "wake up", model.KindAlarm))
	assert.Equal(t, model.StatusStopped, f.get(t, id).Status)

	before := len(f.rec.announced())
	require.NoError(t, f.c.Stop(ctx, id, model.KindAlarm))
	assert.Equal(t, model.StatusStopped, f.get(t, id).Status)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, len(f.rec.announced()), "playback continued after stop")

	recs, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, recs[id].Status)
}

func TestStopScheduledDisarmsTimer(t *testing.T) {
	f := newFixture(t)
	id := f.alarm(t, "", "09:00")
	require.NoError(t, f.c.Stop(context.Background(), id, model.KindAlarm))

	assert.Equal(t, 0, f.clk.Pending())
	f.clk.Advance(2 * time.Hour)
	assert.Equal(t, model.StatusStopped, f.get(t, id).Status)
	assert.Empty(t, f.rec.announced())
}

func TestKindIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "x", "09:00")

	err := f.c.Stop(ctx, "x", model.KindReminder)
	require.ErrorIs(t, err, ErrKindMismatch)
	assert.Equal(t, model.StatusScheduled, f.get(t, id).Status)

	require.ErrorIs(t, f.c.Delete(ctx, "x", model.KindReminder), ErrKindMismatch)
	require.ErrorIs(t, f.c.Snooze(ctx, "x", 5, model.KindReminder), ErrKindMismatch)
	assert.Equal(t, 1, f.clk.Pending())
}

func TestIdentifierResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.alarm(t, "Morning Run", "09:00")
	second := f.alarm(t, "Morning_Run", "09:30")
	require.Equal(t, "morning_run_2", second)

	// Exact id wins, then the earliest created name match.
	require.NoError(t, f.c.Stop(ctx, "morning_run_2", model.KindAlarm))
	assert.Equal(t, model.StatusStopped, f.get(t, second).Status)
	assert.Equal(t, model.StatusScheduled, f.get(t, first).Status)

	require.NoError(t, f.c.Stop(ctx, "alarm.morning_run", model.KindAlarm))
	assert.Equal(t, model.StatusStopped, f.get(t, first).Status)

	third := f.alarm(t, "Tea Time", "10:00")
	require.NoError(t, f.c.Stop(ctx, "TEA TIME", model.KindAlarm))
	assert.Equal(t, model.StatusStopped, f.get(t, third).Status)

	require.ErrorIs(t, f.c.Stop(ctx, "nothing", model.KindAlarm), ErrNotFound)
	require.ErrorIs(t, f.c.Stop(ctx, "  ", model.KindAlarm), ErrNotFound)
}

func TestEditRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindAlarm, Time: "09:00", Date: "2026-10-20",
		Targets: model.Targets{Satellite: "bedroom"},
	})
	require.NoError(t, err)

	require.NoError(t, f.c.Edit(ctx, id, Changes{Time: strPtr("10:15")}, model.KindAlarm))
	assert.Equal(t, time.Date(2026, 10, 20, 10, 15, 0, 0, time.UTC), f.get(t, id).ScheduledTime)

	require.NoError(t, f.c.Edit(ctx, id, Changes{Date: strPtr("2026-10-22")}, model.KindAlarm))
	assert.Equal(t, time.Date(2026, 10, 22, 10, 15, 0, 0, time.UTC), f.get(t, id).ScheduledTime)

	next, ok := f.clk.NextAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 22, 10, 15, 0, 0, time.UTC), next)
	assert.Equal(t, 1, f.clk.Pending())

	require.NoError(t, f.c.Edit(ctx, id, Changes{
		DisplayName: strPtr("Dentist"),
		Message:     strPtr("bring the card"),
		Targets:     &model.Targets{MediaPlayers: []string{"hall"}},
	}, model.KindAlarm))
	it := f.get(t, id)
	assert.Equal(t, "Dentist", it.DisplayName)
	assert.Equal(t, "bring the card", it.MessageText())
	assert.Equal(t, []string{"hall"}, it.Targets.MediaPlayers)
	assert.Empty(t, it.Targets.Satellite)

	require.ErrorIs(t, f.c.Edit(ctx, id, Changes{Targets: &model.Targets{}}, model.KindAlarm), ErrInvalidTarget)
	require.ErrorIs(t, f.c.Edit(ctx, id, Changes{Time: strPtr("nope")}, model.KindAlarm), ErrInvalidInput)
	require.ErrorIs(t, f.c.Edit(ctx, id, Changes{Date: strPtr("2026-10-01")}, model.KindAlarm), ErrPastSchedule)
	assert.Equal(t, "Dentist", f.get(t, id).DisplayName, "failed edit must not change state")
}

func TestEditTimeOnTodayRollsOver(t *testing.T) {
	f := newFixture(t)
	id := f.alarm(t, "", "09:00")
	require.NoError(t, f.c.Edit(context.Background(), id, Changes{Time: strPtr("07:30")}, model.KindAlarm))
	assert.Equal(t, time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC), f.get(t, id).ScheduledTime)
}

func TestEditRejectsNonScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "", "09:00")
	require.NoError(t, f.c.Stop(ctx, id, model.KindAlarm))

	require.ErrorIs(t, f.c.Edit(ctx, id, Changes{Time: strPtr("10:00")}, model.KindAlarm), ErrInvalidState)

	require.NoError(t, f.c.Reschedule(ctx, id, Changes{Time: strPtr("10:00")}, model.KindAlarm))
	it := f.get(t, id)
	assert.Equal(t, model.StatusScheduled, it.Status)
	assert.Equal(t, time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC), it.ScheduledTime)
	assert.Equal(t, 1, f.clk.Pending())

	active := f.alarm(t, "", "08:30")
	f.clk.Advance(30 * time.Minute)
	require.ErrorIs(t, f.c.Edit(ctx, active, Changes{Time: strPtr("11:00")}, model.KindAlarm), ErrInvalidState)
	require.ErrorIs(t, f.c.Reschedule(ctx, active, Changes{Time: strPtr("11:00")}, model.KindAlarm), ErrInvalidState)
}

func TestRescheduleStoppedOnceItemNeedsNewTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "", "08:30")
	f.clk.Advance(time.Hour)
	require.NoError(t, f.c.Stop(ctx, id, model.KindAlarm))

	require.ErrorIs(t, f.c.Reschedule(ctx, id, Changes{}, model.KindAlarm), ErrPastSchedule)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "Nap", "08:30")
	f.clk.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return len(f.rec.announced()) > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.c.Delete(ctx, "nap", model.KindAlarm))
	_, ok := f.c.Get(id)
	assert.False(t, ok)
	recs, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, recs, id)

	require.NoError(t, f.c.Delete(ctx, id, model.KindAlarm))
	require.NoError(t, f.c.Delete(ctx, "Nap", model.KindAlarm))
	require.NoError(t, f.c.Stop(ctx, id, model.KindAlarm))
	require.ErrorIs(t, f.c.Snooze(ctx, id, 5, model.KindAlarm), ErrNotFound)
	require.ErrorIs(t, f.c.Delete(ctx, "never_existed", model.KindAlarm), ErrNotFound)
}

func TestSnooze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindAlarm, Time: "08:30",
		Targets: model.Targets{Satellite: "bedroom"},
		Repeat:  model.Repeat{Mode: model.RepeatDaily},
	})
	require.NoError(t, err)
	f.clk.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return len(f.rec.announced()) > 0 }, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, f.c.Snooze(ctx, id, 61, model.KindAlarm), ErrInvalidInput)
	require.ErrorIs(t, f.c.Snooze(ctx, id, -1, model.KindAlarm), ErrInvalidInput)

	require.NoError(t, f.c.Snooze(ctx, id, 10, model.KindAlarm))
	it := f.get(t, id)
	assert.Equal(t, model.StatusScheduled, it.Status)
	assert.Equal(t, time.Date(2026, 10, 16, 8, 40, 0, 0, time.UTC), it.ScheduledTime)
	assert.Equal(t, time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC), it.AnchorTime, "snooze must not move the series")

	require.NoError(t, f.c.Snooze(ctx, id, 0, model.KindAlarm))
	assert.Equal(t, time.Date(2026, 10, 16, 8, 35, 0, 0, time.UTC), f.get(t, id).ScheduledTime)
	assert.Equal(t, 1, f.clk.Pending())

	f.clk.Advance(5 * time.Minute)
	assert.Equal(t, model.StatusActive, f.get(t, id).Status)

	require.NoError(t, f.c.Stop(ctx, id, model.KindAlarm))
	require.ErrorIs(t, f.c.Snooze(ctx, id, 5, model.KindAlarm), ErrInvalidState)
}

func TestDailyAlarmRepeatsAfterSessionEnds(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Playback.MaxCycles = 1 })
	id, err := f.c.Schedule(context.Background(), ScheduleRequest{
		Kind: model.KindAlarm, Time: "08:30",
		Targets: model.Targets{Satellite: "bedroom"},
		Repeat:  model.Repeat{Mode: model.RepeatDaily},
	})
	require.NoError(t, err)

	f.clk.Advance(30 * time.Minute)
	f.waitStatus(t, id, model.StatusScheduled)

	it := f.get(t, id)
	want := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, want, it.ScheduledTime)
	assert.Equal(t, want, it.AnchorTime)
	next, ok := f.clk.NextAt()
	require.True(t, ok)
	assert.Equal(t, want, next)
	assert.Len(t, f.rec.announced(), 1)
}

func TestMediaReminderCompletesAfterOneCycle(t *testing.T) {
	f := newFixture(t)
	id, err := f.c.Schedule(context.Background(), ScheduleRequest{
		Kind: model.KindReminder, DisplayName: "Take pills", Time: "14:00",
		Targets: model.Targets{MediaPlayers: []string{"kitchen", "office"}},
		Sound:   "sounds/custom.mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, "take_pills", id)

	f.clk.Advance(6 * time.Hour)
	f.waitStatus(t, id, model.StatusCompleted)

	assert.Equal(t, []string{
		"Reminder: Take pills at 2:00 PM.",
		"Reminder: Take pills at 2:00 PM.",
	}, f.rec.announced())
	f.rec.mu.Lock()
	assert.Equal(t, []string{"sounds/custom.mp3", "sounds/custom.mp3"}, f.rec.sounds)
	f.rec.mu.Unlock()
	assert.Equal(t, 0, f.clk.Pending())
}

func TestStopAllAndDeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.alarm(t, "", "09:00")
	a2 := f.alarm(t, "", "08:30")
	rem, err := f.c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindReminder, DisplayName: "Call mom", Time: "12:00",
		Targets: model.Targets{Satellite: "kitchen"},
	})
	require.NoError(t, err)
	f.clk.Advance(30 * time.Minute)
	require.NoError(t, f.c.Stop(ctx, a1, model.KindAlarm))

	n, err := f.c.StopAll(ctx, model.KindAlarm)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusStopped, f.get(t, a2).Status)
	assert.Equal(t, model.StatusScheduled, f.get(t, rem).Status)

	sum := f.c.Status(model.KindAlarm)
	assert.Zero(t, sum.Count)
	sum = f.c.Status(model.KindReminder)
	require.Equal(t, 1, sum.Count)
	assert.Equal(t, "Call mom", sum.Items[0].DisplayName)

	n, err = f.c.DeleteAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, f.c.List())
	assert.Equal(t, 0, f.clk.Pending())
	recs, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStopAllExcludesLaterInserts(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		f.alarm(t, "first", "09:00")

		var (
			wg    sync.WaitGroup
			n     int
			newID string
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			n, _ = f.c.StopAll(ctx, "")
		}()
		go func() {
			defer wg.Done()
			newID = f.alarm(t, "second", "10:00")
		}()
		wg.Wait()

		st := f.get(t, newID).Status
		switch n {
		case 1:
			assert.Equal(t, model.StatusScheduled, st)
		case 2:
			assert.Equal(t, model.StatusStopped, st)
		default:
			t.Fatalf("unexpected sweep count %d", n)
		}
	}
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetFailure(errors.New("disk full"))

	id, err := f.c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindAlarm, Time: "09:00", Targets: model.Targets{Satellite: "bedroom"},
	})
	require.ErrorIs(t, err, ErrPersistence)
	require.NotEmpty(t, id)
	assert.Equal(t, model.StatusScheduled, f.get(t, id).Status)
	assert.Equal(t, 1, f.clk.Pending())

	require.ErrorIs(t, f.c.Delete(ctx, id, model.KindAlarm), ErrPersistence)
	_, ok := f.c.Get(id)
	assert.False(t, ok)
}

func TestPurgeRemovesOldTerminalItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.alarm(t, "", "08:30")
	keep := f.alarm(t, "", "09:00")
	require.NoError(t, f.c.Stop(ctx, old, model.KindAlarm))

	f.clk.Set(start.Add(48 * time.Hour))
	n, err := f.c.Purge(ctx, f.clk.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := f.c.Get(old)
	assert.False(t, ok)
	_, ok = f.c.Get(keep)
	assert.True(t, ok)
}

func TestPurgeDropsOldTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.alarm(t, "Nap", "08:30")
	require.NoError(t, f.c.Delete(ctx, id, model.KindAlarm))

	_, err := f.c.Purge(ctx, start)
	require.NoError(t, err)
	require.NoError(t, f.c.Delete(ctx, "Nap", model.KindAlarm), "deleted after the cutoff, still remembered")

	f.clk.Set(start.Add(48 * time.Hour))
	_, err = f.c.Purge(ctx, f.clk.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, f.c.tombstones)
	require.ErrorIs(t, f.c.Delete(ctx, id, model.KindAlarm), ErrNotFound)
}

func record(t *testing.T, it model.Item) model.ItemRecord {
	t.Helper()
	if it.AnchorTime.IsZero() {
		it.AnchorTime = it.ScheduledTime
	}
	if it.Repeat.Mode == "" {
		it.Repeat.Mode = model.RepeatOnce
	}
	return it.Record()
}

func TestRestore(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Resolver = allowList{"bedroom": true} })
	sat := model.Targets{Satellite: "bedroom"}
	gone := model.Targets{Satellite: "garage"}

	f.store.Put(record(t, model.Item{ID: "future", Kind: model.KindAlarm, DisplayName: "future",
		ScheduledTime: start.Add(time.Hour), Targets: sat, Status: model.StatusScheduled}))
	f.store.Put(record(t, model.Item{ID: "overdue", Kind: model.KindAlarm, DisplayName: "overdue",
		ScheduledTime: start.Add(-time.Hour), Targets: sat, Status: model.StatusScheduled}))
	f.store.Put(record(t, model.Item{ID: "daily", Kind: model.KindAlarm, DisplayName: "daily",
		ScheduledTime: start.Add(-49 * time.Hour), Targets: sat, Status: model.StatusScheduled,
		Repeat: model.Repeat{Mode: model.RepeatDaily}}))
	f.store.Put(record(t, model.Item{ID: "ancient", Kind: model.KindAlarm, DisplayName: "ancient",
		ScheduledTime: start.AddDate(-2, 0, 0), Targets: sat, Status: model.StatusScheduled,
		Repeat: model.Repeat{Mode: model.RepeatDaily}}))
	f.store.Put(record(t, model.Item{ID: "interrupted", Kind: model.KindReminder, DisplayName: "interrupted",
		ScheduledTime: start.Add(-time.Minute), Targets: sat, Status: model.StatusActive}))
	f.store.Put(record(t, model.Item{ID: "orphan", Kind: model.KindAlarm, DisplayName: "orphan",
		ScheduledTime: start.Add(-time.Minute), Targets: gone, Status: model.StatusActive}))
	f.store.Put(record(t, model.Item{ID: "alarm_4", Kind: model.KindAlarm, DisplayName: "alarm_4",
		ScheduledTime: start.Add(-time.Hour), Targets: sat, Status: model.StatusStopped}))

	require.NoError(t, f.c.Restore(context.Background()))

	assert.Equal(t, model.StatusScheduled, f.get(t, "future").Status)
	assert.Equal(t, model.StatusStopped, f.get(t, "alarm_4").Status)
	assert.Equal(t, model.StatusError, f.get(t, "orphan").Status)
	assert.Equal(t, model.StatusError, f.get(t, "ancient").Status)

	daily := f.get(t, "daily")
	assert.Equal(t, model.StatusScheduled, daily.Status)
	assert.Equal(t, time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC), daily.ScheduledTime)

	f.waitStatus(t, "overdue", model.StatusActive)
	f.waitStatus(t, "interrupted", model.StatusActive)

	id := f.alarm(t, "", "10:00")
	assert.Equal(t, "alarm_5", id)

	recs, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, recs["orphan"].Status)
	assert.True(t, strings.HasPrefix(recs["daily"].ScheduledTime, "2026-10-17T07:00:00"))
}

// unreadableStore fails LoadAll while err is set.
type unreadableStore struct {
	*storage.Memory
	err error
}

func (u *unreadableStore) LoadAll(ctx context.Context) (map[string]model.ItemRecord, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.Memory.LoadAll(ctx)
}

func TestRestoreFailureKeepsStoredItems(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.Put(record(t, model.Item{ID: "pills", Kind: model.KindReminder, DisplayName: "Pills",
		ScheduledTime: start.Add(6 * time.Hour), Targets: model.Targets{Satellite: "kitchen"},
		Status: model.StatusScheduled}))
	store := &unreadableStore{Memory: mem, err: errors.New("alarms.json: unexpected end of JSON input")}

	c := New(store, &recorder{}, Options{
		Clock:       clock.NewFake(start),
		Location:    time.UTC,
		StopTimeout: time.Second,
	}, logx.Nop())
	t.Cleanup(c.Close)

	require.ErrorIs(t, c.Restore(ctx), ErrPersistence)

	id, err := c.Schedule(ctx, ScheduleRequest{
		Kind: model.KindAlarm, Time: "09:00", Targets: model.Targets{Satellite: "bedroom"},
	})
	require.ErrorIs(t, err, ErrPersistence)
	require.NotEmpty(t, id)

	recs, err := mem.LoadAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, recs, "pills")
	assert.NotContains(t, recs, id)

	store.err = nil
	require.NoError(t, c.Restore(ctx))
	_, ok := c.Get("pills")
	assert.True(t, ok)

	recs, err = mem.LoadAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, recs, "pills")
	assert.Contains(t, recs, id)
}

func strPtr(s string) *string { return &s }
