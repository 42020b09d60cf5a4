// internal/monitoring/purge.go - drops runtime state of hosts that left the repository
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"hostmonitor/internal/database"
	"hostmonitor/internal/metrics"
)

// Purger stops loops and forgets aggregated status for hosts that are no
// longer in the repository, e.g. after the bolt file was edited offline.
type Purger struct {
	store      database.Store
	scheduler  *Scheduler
	aggregator *Aggregator
	metrics    *metrics.Collector
}

func NewPurger(store database.Store, scheduler *Scheduler, aggregator *Aggregator, metricsCollector *metrics.Collector) *Purger {
	return &Purger{
		store:      store,
		scheduler:  scheduler,
		aggregator: aggregator,
		metrics:    metricsCollector,
	}
}

// PurgeOrphaned returns the number of hosts whose state was released.
func (p *Purger) PurgeOrphaned(ctx context.Context) (int, error) {
	logrus.Debug("Checking for orphaned hosts")

	// Candidates are collected before listing so a host saved and started
	// in between is never mistaken for an orphan.
	candidates := make(map[string]bool)
	for _, id := range p.aggregator.TrackedIDs() {
		candidates[id] = true
	}
	for _, id := range p.scheduler.HostIDs() {
		candidates[id] = true
	}

	hosts, err := p.store.ListHosts(ctx, database.HostFilters{})
	if err != nil {
		return 0, fmt.Errorf("failed to list hosts: %w", err)
	}

	known := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		known[h.ID] = true
	}

	purged := 0
	for id := range candidates {
		if known[id] {
			continue
		}

		p.scheduler.Stop(id)
		if st, ok := p.aggregator.Get(id); ok {
			logrus.WithFields(logrus.Fields{
				"host_id":   id,
				"host_name": st.Name,
			}).Info("Purging orphaned host state")
		}
		if p.metrics != nil {
			p.metrics.RemoveHost(id)
		}
		p.aggregator.Forget(id)
		purged++
	}

	if purged > 0 {
		if p.metrics != nil {
			p.metrics.SetActiveLoops(p.scheduler.ActiveLoops())
		}
		logrus.WithField("purged_hosts", purged).Info("Orphaned host purge completed")
	}
	return purged, nil
}

// SchedulePeriodicPurge purges once right away and then every interval until ctx ends.
func (p *Purger) SchedulePeriodicPurge(ctx context.Context, interval time.Duration) {
	go func() {
		if _, err := p.PurgeOrphaned(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Initial purge failed")
		}
	}()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logrus.Debug("Stopping periodic purge scheduler")
				return
			case <-ticker.C:
				if _, err := p.PurgeOrphaned(ctx); err != nil {
					logrus.WithError(err).Error("Scheduled purge failed")
				}
			}
		}
	}()

	logrus.WithField("interval", interval).Debug("Scheduled periodic purge")
}
