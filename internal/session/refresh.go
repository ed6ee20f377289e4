package session

import (
	"context"

	"github.com/robfig/cron/v3"

	appLog "contentcal/internal/log"
)

// RunAutoRefresh refreshes the current month on the cron schedule spec
// (standard five-field syntax, evaluated in the display time zone) until
// ctx is canceled.
func (s *Session) RunAutoRefresh(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(s.loc))
	_, err := c.AddFunc(spec, func() {
		if err := s.Refresh(ctx); err != nil {
			appLog.Error("auto refresh failed", err, "month", s.Current().String())
		}
	})
	if err != nil {
		return err
	}

	appLog.Info("auto refresh started", "schedule", spec)
	c.Start()
	<-ctx.Done()

	// Wait for a refresh in progress.
	<-c.Stop().Done()
	appLog.Info("auto refresh stopped")
	return nil
}
