package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

// Reporter logs reply statistics on a cron schedule.
type Reporter struct {
	store    *Store
	schedule string
	now      func() time.Time
}

func NewReporter(store *Store, schedule string) (*Reporter, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid stats schedule %q", schedule)
	}
	return &Reporter{store: store, schedule: schedule, now: time.Now}, nil
}

// NextRun returns the first tick strictly after ref.
func (r *Reporter) NextRun(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.schedule, ref, false)
}

// Run blocks until ctx is done, reporting at every tick.
func (r *Reporter) Run(ctx context.Context) {
	logger.InfoCF("usage", "Stats reporter started", map[string]interface{}{
		"schedule": r.schedule,
	})
	for {
		next, err := r.NextRun(r.now())
		if err != nil {
			logger.ErrorCF("usage", "Cannot compute next stats tick", map[string]interface{}{
				"schedule": r.schedule,
				"error":    err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Report()
		}
	}
}

// Report logs today's and all-time aggregates and returns the summary.
func (r *Reporter) Report() Summary {
	sum := r.store.Summary()
	fields := map[string]interface{}{
		"today":    SummaryLine("today", sum.Today),
		"all_time": SummaryLine("all", sum.AllTime),
	}
	for name, agg := range sum.ByProducer {
		fields["producer."+name] = GroupedInt(agg.Replies)
	}
	logger.InfoCF("usage", "Reply stats", fields)
	return sum
}
