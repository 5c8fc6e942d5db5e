// Package coordinator owns alarm and reminder state. It arms timers, starts
// playback when an item fires, and keeps the persistence store in step with
// every mutation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/clock"
	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
	"github.com/noahxzhu/alarm-notify/internal/occurrence"
	"github.com/noahxzhu/alarm-notify/internal/playback"
	"github.com/noahxzhu/alarm-notify/internal/storage"
)

// Resolver reports whether a target reference still exists. It is consulted
// when an item is restored in the active state.
type Resolver interface {
	Resolvable(ep playback.Endpoint) bool
}

// Notifier delivers a one-off push message when an item fires. Notify must not block.
type Notifier interface {
	Notify(title, message string, devices []string)
}

type Options struct {
	Clock    clock.Clock
	Location *time.Location
	Playback playback.Options
	// StopTimeout bounds how long stop and snooze wait for a session to exit.
	StopTimeout   time.Duration
	AlarmSound    string
	ReminderSound string
	// SnoozeMinutes is used when snooze is called with zero minutes.
	SnoozeMinutes int
	Resolver      Resolver
	Notifier      Notifier
}

type Coordinator struct {
	mu sync.Mutex

	clock  clock.Clock
	loc    *time.Location
	store  storage.Store
	player *playback.Player
	opts   Options
	log    logx.Logger

	items      map[string]*entry
	tombstones map[string]tombstone
	counters   map[model.Kind]int
	seq        uint64
	closed     bool
	// unloaded is set while the persisted state could not be read. Writes
	// are refused because SaveAll would replace records never loaded.
	unloaded bool

	base     context.Context
	shutdown context.CancelFunc
	sessions sync.WaitGroup
}

type entry struct {
	item model.Item
	seq  uint64

	timer  clock.Timer
	armSeq uint64

	session *session
}

// tombstone remembers a deleted item so repeated deletes stay no-ops.
type tombstone struct {
	kind model.Kind
	at   time.Time
}

// session is the cancel token of an active item.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store storage.Store, adapter playback.Adapter, opts Options, log logx.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.SnoozeMinutes <= 0 {
		opts.SnoozeMinutes = 5
	}
	if opts.AlarmSound == "" {
		opts.AlarmSound = "sounds/alarms/birds.mp3"
	}
	if opts.ReminderSound == "" {
		opts.ReminderSound = "sounds/reminders/ringtone.mp3"
	}
	log = log.With(logx.String("component", "coordinator"))
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		clock:      opts.Clock,
		loc:        opts.Location,
		store:      store,
		player:     playback.NewPlayer(adapter, opts.Playback, log),
		opts:       opts,
		log:        log,
		items:      map[string]*entry{},
		tombstones: map[string]tombstone{},
		counters:   map[model.Kind]int{},
		base:       base,
		shutdown:   cancel,
	}
}

// Schedule creates an item and arms its timer. On a persistence failure the
// item stays scheduled in memory and its id is returned with the error.
func (c *Coordinator) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	if !req.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, req.Kind)
	}
	targets := cleanTargets(req.Targets)
	if targets.Empty() {
		return "", ErrInvalidTarget
	}
	name := strings.TrimSpace(req.DisplayName)
	if req.Kind == model.KindReminder && name == "" {
		return "", fmt.Errorf("%w: reminders need a name", ErrInvalidInput)
	}
	tod, err := parseTimeOfDay(req.Time)
	if err != nil {
		return "", err
	}
	var date civilDate
	explicitDate := strings.TrimSpace(req.Date) != ""
	if explicitDate {
		if date, err = parseDate(req.Date); err != nil {
			return "", err
		}
	}
	repeat, err := validateRepeat(req.Repeat)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	now := c.clock.Now()
	if !explicitDate {
		date = dateOf(now.In(c.loc))
	}
	at, err := resolveFireTime(now, date, tod, explicitDate, c.loc)
	if err != nil {
		return "", err
	}
	if occurrence.Degenerate(repeat) {
		c.log.Warn("custom repeat without days, treating as once", logx.String("name", name))
	}
	at = occurrence.Align(at, repeat)

	id := c.newIDLocked(req.Kind, name)
	if name == "" {
		name = id
	}
	item := model.Item{
		ID:            id,
		Kind:          req.Kind,
		DisplayName:   name,
		ScheduledTime: at,
		AnchorTime:    at,
		Message:       cleanMessage(req.Message),
		Targets:       targets,
		Repeat:        repeat,
		Status:        model.StatusScheduled,
		Sound:         strings.TrimSpace(req.Sound),
		CreatedAt:     now,
	}
	e := c.insertLocked(item)
	c.armLocked(e)
	c.log.Info("item scheduled",
		logx.String("id", id),
		logx.String("kind", string(item.Kind)),
		logx.Time("at", at),
		logx.String("repeat", string(repeat.Mode)))
	return id, c.persistLocked(ctx)
}

// Stop ends the current occurrence. Stopping a terminal or deleted item is a no-op.
func (c *Coordinator) Stop(ctx context.Context, ident string, kind model.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(ident, kind)
	if errors.Is(err, errGone) {
		c.log.Debug("stop on deleted item ignored", logx.String("ident", ident))
		return nil
	}
	if err != nil {
		return err
	}
	if !c.stopLocked(e) {
		c.log.Debug("item already stopped", logx.String("id", e.item.ID), logx.String("status", string(e.item.Status)))
		return nil
	}
	return c.persistLocked(ctx)
}

func (c *Coordinator) stopLocked(e *entry) bool {
	switch e.item.Status {
	case model.StatusScheduled:
		c.disarmLocked(e)
	case model.StatusActive:
		c.endSessionLocked(e)
	default:
		return false
	}
	e.item.Status = model.StatusStopped
	c.log.Info("item stopped", logx.String("id", e.item.ID))
	return true
}

// Snooze halts any running session and re-arms the item minutes from now.
// Zero minutes uses the configured default.
func (c *Coordinator) Snooze(ctx context.Context, ident string, minutes int, kind model.Kind) error {
	if minutes == 0 {
		minutes = c.opts.SnoozeMinutes
	}
	if minutes < 1 || minutes > 60 {
		return fmt.Errorf("%w: snooze minutes must be within 1..60, got %d", ErrInvalidInput, minutes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(ident, kind)
	if errors.Is(err, errGone) {
		return fmt.Errorf("%w: %s", ErrNotFound, ident)
	}
	if err != nil {
		return err
	}
	switch e.item.Status {
	case model.StatusActive:
		c.endSessionLocked(e)
	case model.StatusScheduled:
		c.disarmLocked(e)
	default:
		return fmt.Errorf("%w: cannot snooze %s item %s", ErrInvalidState, e.item.Status, e.item.ID)
	}
	e.item.ScheduledTime = c.clock.Now().In(c.loc).Add(time.Duration(minutes) * time.Minute)
	e.item.Status = model.StatusScheduled
	c.armLocked(e)
	c.log.Info("item snoozed", logx.String("id", e.item.ID), logx.Int("minutes", minutes), logx.Time("until", e.item.ScheduledTime))
	return c.persistLocked(ctx)
}

// Edit applies changes to a scheduled item.
func (c *Coordinator) Edit(ctx context.Context, ident string, ch Changes, kind model.Kind) error {
	return c.update(ctx, ident, ch, kind, false)
}

// Reschedule is Edit that also revives stopped, completed and failed items.
func (c *Coordinator) Reschedule(ctx context.Context, ident string, ch Changes, kind model.Kind) error {
	return c.update(ctx, ident, ch, kind, true)
}

func (c *Coordinator) update(ctx context.Context, ident string, ch Changes, kind model.Kind, revive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(ident, kind)
	if errors.Is(err, errGone) {
		return fmt.Errorf("%w: %s", ErrNotFound, ident)
	}
	if err != nil {
		return err
	}
	st := e.item.Status
	if st == model.StatusActive || (st != model.StatusScheduled && !revive) {
		return fmt.Errorf("%w: cannot change %s item %s", ErrInvalidState, st, e.item.ID)
	}

	next, err := c.applyChanges(e.item, ch)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	if !next.ScheduledTime.After(now) {
		// A revived item keeps its old time unless told otherwise.
		if next.Repeat.IsOnce() || occurrence.Degenerate(next.Repeat) {
			return fmt.Errorf("%w: %s", ErrPastSchedule, next.ScheduledTime.Format(time.RFC3339))
		}
		at, ok, err := occurrence.Advance(next.AnchorTime, next.Repeat, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrPastSchedule, next.ScheduledTime.Format(time.RFC3339))
		}
		next.ScheduledTime, next.AnchorTime = at, at
	}

	c.disarmLocked(e)
	next.Status = model.StatusScheduled
	e.item = next
	c.armLocked(e)
	c.log.Info("item updated", logx.String("id", e.item.ID), logx.Time("at", e.item.ScheduledTime), logx.Bool("revived", st != model.StatusScheduled))
	return c.persistLocked(ctx)
}

// applyChanges validates ch against item and returns the updated copy.
func (c *Coordinator) applyChanges(item model.Item, ch Changes) (model.Item, error) {
	next := item.Clone()
	if ch.DisplayName != nil {
		name := strings.TrimSpace(*ch.DisplayName)
		if name == "" {
			if item.Kind == model.KindReminder {
				return model.Item{}, fmt.Errorf("%w: reminders need a name", ErrInvalidInput)
			}
			name = item.ID
		}
		next.DisplayName = name
	}
	if ch.Message != nil {
		next.Message = cleanMessage(ch.Message)
	}
	if ch.Targets != nil {
		t := cleanTargets(*ch.Targets)
		if t.Empty() {
			return model.Item{}, ErrInvalidTarget
		}
		next.Targets = t
	}
	if ch.Sound != nil {
		next.Sound = strings.TrimSpace(*ch.Sound)
	}
	if ch.Repeat != nil {
		r, err := validateRepeat(*ch.Repeat)
		if err != nil {
			return model.Item{}, err
		}
		next.Repeat = r
		next.ScheduledTime = occurrence.Align(next.ScheduledTime, r)
		next.AnchorTime = next.ScheduledTime
	}
	if !ch.movesTime() {
		return next, nil
	}

	cur := item.ScheduledTime.In(c.loc)
	tod := timeOfDayOf(cur)
	date := dateOf(cur)
	var err error
	if ch.Time != nil {
		if tod, err = parseTimeOfDay(*ch.Time); err != nil {
			return model.Item{}, err
		}
	}
	if ch.Date != nil {
		if date, err = parseDate(*ch.Date); err != nil {
			return model.Item{}, err
		}
	}
	at, err := resolveFireTime(c.clock.Now(), date, tod, ch.Date != nil, c.loc)
	if err != nil {
		return model.Item{}, err
	}
	at = occurrence.Align(at, next.Repeat)
	next.ScheduledTime, next.AnchorTime = at, at
	return next, nil
}

// Delete removes an item. Deleting an item that was already deleted is a no-op.
func (c *Coordinator) Delete(ctx context.Context, ident string, kind model.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(ident, kind)
	if errors.Is(err, errGone) {
		return nil
	}
	if err != nil {
		return err
	}
	c.removeLocked(e)
	c.log.Info("item deleted", logx.String("id", e.item.ID))
	if err := c.store.Delete(ctx, e.item.ID); err != nil {
		c.log.Error("failed to delete record", logx.String("id", e.item.ID), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// StopAll stops every scheduled or active item of kind, or of every kind when
// kind is empty, and returns how many were stopped.
func (c *Coordinator) StopAll(ctx context.Context, kind model.Kind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.snapshotLocked(kind) {
		if c.stopLocked(e) {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, c.persistLocked(ctx)
}

// DeleteAll deletes every item of kind, or of every kind when kind is empty.
func (c *Coordinator) DeleteAll(ctx context.Context, kind model.Kind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	victims := c.snapshotLocked(kind)
	for _, e := range victims {
		c.removeLocked(e)
		if err := c.store.Delete(ctx, e.item.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(victims) > 0 {
		c.log.Info("items deleted", logx.String("kind", string(kind)), logx.Int("count", len(victims)))
	}
	if err := errors.Join(errs...); err != nil {
		c.log.Error("failed to delete records", logx.Err(err))
		return len(victims), fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return len(victims), nil
}

// Purge deletes terminal items scheduled before cutoff.
func (c *Coordinator) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	n := 0
	for _, e := range c.snapshotLocked("") {
		if !e.item.Status.Terminal() || !e.item.ScheduledTime.Before(cutoff) {
			continue
		}
		c.removeLocked(e)
		n++
		if err := c.store.Delete(ctx, e.item.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for key, ts := range c.tombstones {
		if ts.at.Before(cutoff) {
			delete(c.tombstones, key)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return n, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

// Close disarms every timer and cancels running sessions. Item statuses are
// left as they are so that active items are picked up again on restore.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.items {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.armSeq++
	}
	c.shutdown()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.StopTimeout):
		c.log.Warn("playback sessions still running at shutdown")
	}
}

func (c *Coordinator) insertLocked(item model.Item) *entry {
	c.seq++
	e := &entry{item: item, seq: c.seq}
	c.items[item.ID] = e
	delete(c.tombstones, item.ID)
	return e
}

func (c *Coordinator) removeLocked(e *entry) {
	c.disarmLocked(e)
	c.endSessionLocked(e)
	delete(c.items, e.item.ID)
	ts := tombstone{kind: e.item.Kind, at: c.clock.Now()}
	c.tombstones[e.item.ID] = ts
	if slug := model.Slug(e.item.DisplayName); slug != "" {
		c.tombstones[slug] = ts
	}
}

// snapshotLocked returns the entries of kind in creation order.
func (c *Coordinator) snapshotLocked(kind model.Kind) []*entry {
	out := make([]*entry, 0, len(c.items))
	for _, e := range c.items {
		if kind == "" || e.item.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// newIDLocked derives an id from the name, or from the per-kind counter for
// unnamed items, adding a numeric suffix until it is free.
func (c *Coordinator) newIDLocked(kind model.Kind, name string) string {
	base := model.Slug(name)
	if base == "" {
		for {
			c.counters[kind]++
			id := string(kind) + "_" + strconv.Itoa(c.counters[kind])
			if _, taken := c.items[id]; !taken {
				return id
			}
		}
	}
	id := base
	for n := 2; ; n++ {
		if _, taken := c.items[id]; !taken {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// noteIDLocked keeps the counter ahead of restored ids like "alarm_7".
func (c *Coordinator) noteIDLocked(kind model.Kind, id string) {
	rest, ok := strings.CutPrefix(id, string(kind)+"_")
	if !ok {
		return
	}
	if n, err := strconv.Atoi(rest); err == nil && n > c.counters[kind] {
		c.counters[kind] = n
	}
}

func (c *Coordinator) armLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.armSeq++
	seq, id := e.armSeq, e.item.ID
	d := e.item.ScheduledTime.Sub(c.clock.Now())
	e.timer = c.clock.AfterFunc(d, func() { c.fire(id, seq) })
}

func (c *Coordinator) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.armSeq++
}

// fire flips a scheduled item to active and starts its session in one
// critical section. Stale callbacks from re-armed timers are dropped.
func (c *Coordinator) fire(id string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok || c.closed || e.armSeq != seq || e.item.Status != model.StatusScheduled {
		return
	}
	e.timer = nil
	c.activateLocked(e)
	if err := c.persistLocked(c.base); err != nil {
		c.log.Warn("fire not persisted", logx.String("id", id))
	}
}

func (c *Coordinator) activateLocked(e *entry) {
	e.item.Status = model.StatusActive
	ctx, cancel := context.WithCancel(c.base)
	s := &session{cancel: cancel, done: make(chan struct{})}
	e.session = s

	item := e.item.Clone()
	text := playback.Phrase(item, item.ScheduledTime.In(c.loc))
	req := playback.Request{
		ItemID:       item.ID,
		Text:         text,
		Sound:        c.soundFor(item),
		Satellite:    item.Targets.Satellite,
		MediaPlayers: item.Targets.MediaPlayers,
		SingleCycle:  item.Kind == model.KindReminder && item.Targets.Satellite == "",
	}
	c.log.Info("item fired", logx.String("id", item.ID), logx.String("text", text))

	if c.opts.Notifier != nil && len(item.Targets.NotifyDevices) > 0 {
		c.opts.Notifier.Notify(notifyTitle(item), text, item.Targets.NotifyDevices)
	}

	c.sessions.Add(1)
	go c.runSession(ctx, s, req)
}

func (c *Coordinator) runSession(ctx context.Context, s *session, req playback.Request) {
	defer c.sessions.Done()
	outcome := c.player.Run(ctx, req)
	// done is closed before taking the lock: stop waits on it while holding the lock.
	close(s.done)
	s.cancel()
	if outcome != playback.Finished {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[req.ItemID]
	if !ok || c.closed || e.session != s {
		return
	}
	e.session = nil
	c.exhaustLocked(e)
	if err := c.persistLocked(c.base); err != nil {
		c.log.Warn("session end not persisted", logx.String("id", req.ItemID))
	}
}

// exhaustLocked moves an item whose session ended on its own to its next
// occurrence, or to completed when there is none.
func (c *Coordinator) exhaustLocked(e *entry) {
	if occurrence.Degenerate(e.item.Repeat) {
		c.log.Warn("custom repeat without days, completing", logx.String("id", e.item.ID))
	}
	next, ok, err := occurrence.Advance(e.item.AnchorTime, e.item.Repeat, c.clock.Now())
	switch {
	case err != nil:
		e.item.Status = model.StatusError
		c.log.Error("cannot compute next occurrence", logx.String("id", e.item.ID), logx.Err(err))
	case !ok:
		e.item.Status = model.StatusCompleted
		c.log.Info("item completed", logx.String("id", e.item.ID))
	default:
		e.item.ScheduledTime, e.item.AnchorTime = next, next
		e.item.Status = model.StatusScheduled
		c.armLocked(e)
		c.log.Info("item repeats", logx.String("id", e.item.ID), logx.Time("at", next))
	}
}

// endSessionLocked cancels the running session and waits, bounded, for it
// to exit before clearing the token.
func (c *Coordinator) endSessionLocked(e *entry) {
	s := e.session
	if s == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(c.opts.StopTimeout):
		c.log.Warn("playback session did not exit in time", logx.String("id", e.item.ID), logx.Duration("waited", c.opts.StopTimeout))
	}
	e.session = nil
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	if c.unloaded {
		return fmt.Errorf("%w: persisted items were never loaded, refusing to overwrite them", ErrPersistence)
	}
	records := make(map[string]model.ItemRecord, len(c.items))
	for id, e := range c.items {
		records[id] = e.item.Record()
	}
	if err := c.store.SaveAll(ctx, records); err != nil {
		c.log.Error("failed to persist items", logx.Int("items", len(records)), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (c *Coordinator) soundFor(item model.Item) string {
	if item.Sound != "" {
		return item.Sound
	}
	if item.Kind == model.KindReminder {
		return c.opts.ReminderSound
	}
	return c.opts.AlarmSound
}

func notifyTitle(item model.Item) string {
	if item.Kind == model.KindReminder {
		return "Reminder: " + item.DisplayName
	}
	return "Alarm"
}
