// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartScheduler wires the periodic tasks of the core: the pairing tick,
// the queue expiry sweep, room allocation, and the lifecycle/arbitration
// deadline sweeps. Each runs independently; all state they touch is
// guarded per entity, so they race safely with client calls and with
// each other.
func StartScheduler(ctx context.Context, cfg Config, queue *QueueService, pairing *PairingService, lifecycle *LifecycleService, arbitration *ArbitrationService) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.PairingInterval),
		gocron.NewTask(func() {
			formed, err := pairing.Tick(time.Now().UTC())
			if err != nil {
				log.Printf("[Scheduler] pairing tick failed: %v", err)
				return
			}
			if len(formed) > 0 {
				log.Printf("✅ Paired %d match(es)", len(formed))
				lifecycle.AllocateRooms(ctx, time.Now().UTC())
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.ExpirySweepInterval),
		gocron.NewTask(func() {
			if n := queue.SweepExpired(ctx, time.Now().UTC()); n > 0 {
				log.Printf("⏱  Expired %d queue entr(ies)", n)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.DeadlineSweepInterval),
		gocron.NewTask(func() {
			now := time.Now().UTC()
			// Catch forming matches left over from a crash between
			// pairing and allocation.
			lifecycle.AllocateRooms(ctx, now)
			lifecycle.SweepDeadlines(ctx, now)
			arbitration.Sweep(ctx, now)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
