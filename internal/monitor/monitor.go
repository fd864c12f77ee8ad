package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/motorbid/auction-engine/internal/engine"
	"github.com/motorbid/auction-engine/internal/notify"
)

// Monitor is the periodic driver: each tick it sweeps time-driven auction
// transitions, schedules reminders for newly active auctions, and delivers
// due notifications. One auction's failure never aborts the rest of a tick;
// failed work is retried on the next tick.
type Monitor struct {
	interval  time.Duration
	machine   *engine.StateMachine
	scheduler *notify.Scheduler
	deliverer notify.Deliverer
	now       func() time.Time
}

func New(interval time.Duration, machine *engine.StateMachine, scheduler *notify.Scheduler, deliverer notify.Deliverer) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		interval:  interval,
		machine:   machine,
		scheduler: scheduler,
		deliverer: deliverer,
		now:       time.Now,
	}
}

// Start runs the loop until the context is cancelled. An immediate first
// tick catches up transitions missed while the process was down.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		log.Infof("Monitoring loop started, sweeping every %s", m.interval)
		m.Tick(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Tick(ctx)
			case <-ctx.Done():
				log.Info("Monitoring loop stopped")
				return
			}
		}
	}()
}

// Tick runs one sweep pass. Exported so tests and admin tooling can drive
// the loop without the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()

	result, err := m.machine.Sweep(ctx, now)
	if err != nil {
		log.Error("State sweep failed, deferring to next tick", "error", err)
	}

	for _, auction := range result.Activated {
		if err := m.scheduler.ScheduleForAuction(ctx, auction.ID); err != nil {
			log.Error("Failed to schedule reminders", "auction", auction.ID, "error", err)
		}
	}
	for _, auction := range result.Ended {
		if err := m.scheduler.ScheduleOutcome(ctx, auction); err != nil {
			log.Error("Failed to schedule outcome notifications", "auction", auction.ID, "error", err)
		}
	}

	// Re-read the clock so outcome notifications created above, whose
	// trigger time is the moment of creation, fall due in this same tick.
	due, err := m.scheduler.SweepDue(ctx, m.now())
	if err != nil {
		log.Error("Notification sweep failed, deferring to next tick", "error", err)
		return
	}
	for _, notification := range due {
		if err := m.deliverer.Deliver(ctx, notification); err != nil {
			// The notification is already marked sent; transport retries
			// are the delivery collaborator's concern.
			log.Error("Notification delivery failed", "notification", notification.ID, "error", err)
		}
	}
}
