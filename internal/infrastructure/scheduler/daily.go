package scheduler

import (
	"context"
	"time"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/ports"
)

// DailyScheduler fires its job once per day at a fixed local wall-clock
// time.
type DailyScheduler struct {
	at   busday.Cutoff
	loc  *time.Location
	stop chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler builds a scheduler firing at the given time of day in
// the given location.
func NewDailyScheduler(at busday.Cutoff, loc *time.Location) *DailyScheduler {
	return &DailyScheduler{at: at, loc: loc}
}

// next returns the first occurrence of the configured time strictly after
// now. DST shifts resolve through time.Date normalization.
func (d *DailyScheduler) next(now time.Time) time.Time {
	local := now.In(d.loc)
	target := time.Date(local.Year(), local.Month(), local.Day(),
		int(d.at)/60, int(d.at)%60, 0, 0, d.loc)
	if !target.After(local) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// Start begins the daily loop. The job runs in the scheduler goroutine; a
// run that overlaps the next occurrence simply delays it.
func (d *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if d.stop != nil {
		return nil
	}

	d.stop = make(chan struct{})
	go func() {
		for {
			timer := time.NewTimer(time.Until(d.next(time.Now())))
			select {
			case t := <-timer.C:
				job(t)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-d.stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the scheduler goroutine.
func (d *DailyScheduler) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	return nil
}
