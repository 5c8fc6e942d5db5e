// Package playback runs the announce, play, wait cycle of a firing item.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/noahxzhu/alarm-notify/internal/logx"
)

// ErrAdapter marks a transient target failure. Sessions retry these.
var ErrAdapter = errors.New("adapter error")

type Class string

const (
	ClassSatellite   Class = "satellite"
	ClassMediaPlayer Class = "media_player"
)

type Endpoint struct {
	Class Class
	Ref   string
}

func (e Endpoint) String() string { return string(e.Class) + ":" + e.Ref }

// Adapter is the output capability of a target. IsIdle must report true when
// the state cannot be determined.
type Adapter interface {
	IsIdle(ctx context.Context, ep Endpoint) bool
	Announce(ctx context.Context, ep Endpoint, text string) error
	PlaySound(ctx context.Context, ep Endpoint, sound string) error
}

type Options struct {
	// RingWindow is the pause between cycles, cut short by cancellation.
	RingWindow   time.Duration
	PollInterval time.Duration
	// MaxIdleWait caps how long a busy target delays a step. Zero waits forever.
	MaxIdleWait  time.Duration
	ErrorBackoff time.Duration
	// MaxCycles ends an unattended session after that many completed cycles. Zero means unlimited.
	MaxCycles int
}

func (o Options) withDefaults() Options {
	if o.RingWindow <= 0 {
		o.RingWindow = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	return o
}

type Request struct {
	ItemID       string
	Text         string
	Sound        string
	Satellite    string
	MediaPlayers []string
	// SingleCycle ends the session after one successful cycle.
	SingleCycle bool
}

func (r Request) endpoints() []Endpoint {
	var eps []Endpoint
	if r.Satellite != "" {
		eps = append(eps, Endpoint{Class: ClassSatellite, Ref: r.Satellite})
	}
	for _, mp := range r.MediaPlayers {
		eps = append(eps, Endpoint{Class: ClassMediaPlayer, Ref: mp})
	}
	return eps
}

type Outcome int

const (
	// Cancelled means the context was cancelled (stop, snooze, delete, shutdown).
	Cancelled Outcome = iota
	// Finished means the session ran out of cycles on its own.
	Finished
)

func (o Outcome) String() string {
	if o == Finished {
		return "finished"
	}
	return "cancelled"
}

type Player struct {
	adapter Adapter
	opts    Options
	log     logx.Logger
}

func NewPlayer(adapter Adapter, opts Options, log logx.Logger) *Player {
	return &Player{adapter: adapter, opts: opts.withDefaults(), log: log}
}

// Run blocks until ctx is cancelled or the session finishes. Adapter errors
// are logged and retried after a backoff; they never end the session.
func (p *Player) Run(ctx context.Context, req Request) Outcome {
	log := p.log.With(logx.String("item", req.ItemID), logx.String("session", uuid.NewString()[:8]))
	errLog := &rate.Sometimes{First: 3, Interval: time.Minute}

	log.Info("playback started", logx.Int("targets", len(req.endpoints())))
	completed := 0
	for {
		err := p.cycle(ctx, req)
		if ctx.Err() != nil {
			log.Info("playback stopped", logx.Int("cycles", completed))
			return Cancelled
		}
		if err != nil {
			errLog.Do(func() { log.Warn("playback cycle failed", logx.Err(err), logx.Int("cycles", completed)) })
			if !sleep(ctx, p.opts.ErrorBackoff) {
				log.Info("playback stopped", logx.Int("cycles", completed))
				return Cancelled
			}
			continue
		}
		completed++
		if req.SingleCycle || (p.opts.MaxCycles > 0 && completed >= p.opts.MaxCycles) {
			log.Info("playback finished", logx.Int("cycles", completed))
			return Finished
		}
		if !sleep(ctx, p.opts.RingWindow) {
			log.Info("playback stopped", logx.Int("cycles", completed))
			return Cancelled
		}
	}
}

func (p *Player) cycle(ctx context.Context, req Request) error {
	for _, ep := range req.endpoints() {
		if err := p.waitIdle(ctx, ep); err != nil {
			return err
		}
		if err := p.adapter.Announce(ctx, ep, req.Text); err != nil {
			return adapterErr("announce", ep, err)
		}
		if err := p.waitIdle(ctx, ep); err != nil {
			return err
		}
		if err := p.adapter.PlaySound(ctx, ep, req.Sound); err != nil {
			return adapterErr("play sound", ep, err)
		}
	}
	return nil
}

func (p *Player) waitIdle(ctx context.Context, ep Endpoint) error {
	var deadline time.Time
	if p.opts.MaxIdleWait > 0 {
		deadline = time.Now().Add(p.opts.MaxIdleWait)
	}
	for {
		if p.adapter.IsIdle(ctx, ep) {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			p.log.Debug("target still busy, continuing", logx.String("target", ep.String()))
			return nil
		}
		if !sleep(ctx, p.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

func adapterErr(op string, ep Endpoint, err error) error {
	if errors.Is(err, ErrAdapter) {
		return fmt.Errorf("%s on %s: %w", op, ep, err)
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrAdapter, op, ep, err)
}

// sleep waits for d or cancellation and reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
