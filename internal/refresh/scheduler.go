package refresh

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic RefreshAll passes. Manual refreshes issued while
// a scheduled pass is running coalesce onto it through the manager's
// per-source in-flight registry.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler schedules RefreshAll with a cron spec (e.g. "@every 6h").
func NewScheduler(log zerolog.Logger, m *Manager, spec string, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := m.RefreshAll(ctx); err != nil {
			log.Warn().Err(err).Msg("scheduled refresh finished with errors")
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
