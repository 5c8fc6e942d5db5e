// Package janitor periodically purges finished items.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/noahxzhu/alarm-notify/internal/logx"
)

// Purger removes terminal items scheduled before cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

type Janitor struct {
	purger    Purger
	retention time.Duration
	now       func() time.Time
	log       logx.Logger

	parser cron.Parser
	c      *cron.Cron
}

func New(p Purger, retention time.Duration, loc *time.Location, log logx.Logger) *Janitor {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Janitor{
		purger:    p,
		retention: retention,
		now:       time.Now,
		log:       log.With(logx.String("component", "janitor")),
		parser:    parser,
		c:         cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
	}
}

// Start registers the purge job on spec and starts the cron loop.
func (j *Janitor) Start(spec string) error {
	if _, err := j.parser.Parse(spec); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", spec, err)
	}
	if _, err := j.c.AddFunc(spec, func() { j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.c.Start()
	j.log.Info("janitor started", logx.String("schedule", spec), logx.Duration("retention", j.retention))
	return nil
}

// RunOnce purges items older than the retention window.
func (j *Janitor) RunOnce(ctx context.Context) int {
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		j.log.Error("purge failed", logx.Int("removed", n), logx.Err(err))
		return n
	}
	if n > 0 {
		j.log.Info("purged finished items", logx.Int("removed", n), logx.Time("cutoff", cutoff))
	}
	return n
}

// Stop halts the cron loop and waits for a running purge.
func (j *Janitor) Stop() {
	<-j.c.Stop().Done()
}
