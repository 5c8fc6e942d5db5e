package target

import (
	"context"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/playback"
)

// Log is a dry-run adapter: it logs each call and always succeeds.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	return &Log{log: log.With(logx.String("component", "target.log"))}
}

func (l *Log) IsIdle(context.Context, playback.Endpoint) bool { return true }

func (l *Log) Announce(_ context.Context, ep playback.Endpoint, text string) error {
	l.log.Info("announce", logx.String("target", ep.String()), logx.String("text", text))
	return nil
}

func (l *Log) PlaySound(_ context.Context, ep playback.Endpoint, sound string) error {
	l.log.Info("play sound", logx.String("target", ep.String()), logx.String("sound", sound))
	return nil
}
