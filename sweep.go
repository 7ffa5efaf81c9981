package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"quadrantd/domain"
)

// runOverdueSweeper runs one sweep at startup and then on every tick, so
// tasks whose due time passed while the process was down are marked promptly.
func runOverdueSweeper(ctx context.Context, svc *domain.TaskService, interval time.Duration) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		updated, err := svc.UpdateOverdueTasks(sweepCtx)
		if err != nil {
			log.WithError(err).Error("overdue sweep failed")
			return
		}
		if updated > 0 {
			log.WithField("updated", updated).Info("tasks marked overdue")
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
