// Package target implements playback.Adapter for the supported output kinds.
package target

import (
	"context"
	"strings"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/playback"
)

// Router dispatches by endpoint class. Classes without a backend fall back
// to the log adapter.
type Router struct {
	satellites playback.Adapter
	media      playback.Adapter
	fallback   playback.Adapter

	knownSatellites map[string]bool
	knownPlayers    map[string]bool
}

type RouterOptions struct {
	Satellites playback.Adapter
	Media      playback.Adapter
	// KnownSatellites and KnownPlayers are allow-lists for Resolvable.
	// An empty list accepts any reference.
	KnownSatellites []string
	KnownPlayers    []string
}

func NewRouter(opts RouterOptions, log logx.Logger) *Router {
	return &Router{
		satellites:      opts.Satellites,
		media:           opts.Media,
		fallback:        NewLog(log),
		knownSatellites: set(opts.KnownSatellites),
		knownPlayers:    set(opts.KnownPlayers),
	}
}

func set(refs []string) map[string]bool {
	if len(refs) == 0 {
		return nil
	}
	m := make(map[string]bool, len(refs))
	for _, r := range refs {
		m[strings.TrimSpace(r)] = true
	}
	return m
}

func (r *Router) pick(ep playback.Endpoint) playback.Adapter {
	switch ep.Class {
	case playback.ClassSatellite:
		if r.satellites != nil {
			return r.satellites
		}
	case playback.ClassMediaPlayer:
		if r.media != nil {
			return r.media
		}
	}
	return r.fallback
}

func (r *Router) IsIdle(ctx context.Context, ep playback.Endpoint) bool {
	return r.pick(ep).IsIdle(ctx, ep)
}

func (r *Router) Announce(ctx context.Context, ep playback.Endpoint, text string) error {
	return r.pick(ep).Announce(ctx, ep, text)
}

func (r *Router) PlaySound(ctx context.Context, ep playback.Endpoint, sound string) error {
	return r.pick(ep).PlaySound(ctx, ep, sound)
}

// Resolvable reports whether the reference is still a configured target.
func (r *Router) Resolvable(ep playback.Endpoint) bool {
	known := r.knownPlayers
	if ep.Class == playback.ClassSatellite {
		known = r.knownSatellites
	}
	if strings.TrimSpace(ep.Ref) == "" {
		return false
	}
	return known == nil || known[ep.Ref]
}
