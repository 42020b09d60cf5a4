// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"hostmonitor/internal/config"
	"hostmonitor/internal/database"
	"hostmonitor/internal/metrics"
)

const purgeInterval = 5 * time.Minute

// Engine wires checkers, loops, aggregation and the event bus together. It
// is the sink every check loop reports to.
type Engine struct {
	config     *config.Config
	store      database.Store
	metrics    *metrics.Collector
	registry   *Registry
	scheduler  *Scheduler
	aggregator *Aggregator
	events     *EventBus
	purger     *Purger

	seedOnce sync.Once
	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
}

func NewEngine(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	engine := &Engine{
		config:     cfg,
		store:      store,
		metrics:    metricsCollector,
		registry:   NewRegistry(),
		aggregator: NewAggregator(cfg.Monitoring.HistorySize),
		events:     NewEventBus(cfg.Monitoring.EventBuffer),
	}

	if err := engine.loadPlugins(); err != nil {
		return nil, err
	}

	engine.scheduler = NewScheduler(engine)
	engine.purger = NewPurger(store, engine.scheduler, engine.aggregator, metricsCollector)

	if metricsCollector != nil {
		engine.events.OnDrop(metricsCollector.RecordEventDropped)
	}

	return engine, nil
}

func (e *Engine) loadPlugins() error {
	e.registry.Register(NewPingChecker())
	e.registry.Register(NewTCPChecker())

	logrus.WithField("checkers", e.registry.Types()).Info("Loaded checkers")
	return nil
}

// Start seeds the repository from the configuration (first call only) and
// starts monitoring every stored host. Hosts that fail to start are skipped
// and their errors returned together.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	bg, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	logrus.Info("Starting monitoring engine")

	var seedErr error
	e.seedOnce.Do(func() { seedErr = e.syncConfig(bg) })
	if seedErr != nil {
		logrus.WithError(seedErr).Error("Failed to sync config")
	}

	hosts, err := e.store.ListHosts(bg, database.HostFilters{})
	if err != nil {
		e.Stop()
		return fmt.Errorf("failed to list hosts: %w", err)
	}

	errs := seedErr
	started := 0
	for i := range hosts {
		if err := e.StartMonitoring(&hosts[i]); err != nil {
			logrus.WithError(err).WithField("host", hosts[i].Name).Error("Failed to start monitoring")
			errs = multierr.Append(errs, err)
			continue
		}
		started++
	}

	e.purger.SchedulePeriodicPurge(bg, purgeInterval)

	logrus.WithFields(logrus.Fields{
		"hosts":   started,
		"skipped": len(hosts) - started,
		"loops":   e.scheduler.ActiveLoops(),
	}).Info("Monitoring engine started")

	return errs
}

// Stop halts every loop. Aggregated status is kept so the last known state
// stays visible.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	logrus.Info("Stopping monitoring engine")
	cancel()
	e.scheduler.StopAll()
	e.updateLoopMetrics()
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// StartMonitoring (re)starts one loop per enabled method of the host. Every
// method is validated and bound to a checker first; on error nothing changes.
func (e *Engine) StartMonitoring(host *database.Host) error {
	bound, err := e.registry.bind(host)
	if err != nil {
		return err
	}

	e.scheduler.Start(host, bound, func() { e.aggregator.Track(host) })
	e.updateLoopMetrics()

	logrus.WithFields(logrus.Fields{
		"host":    host.Name,
		"address": host.Target(),
		"methods": len(bound),
	}).Info("Monitoring started")
	return nil
}

// ValidateHost reports the errors StartMonitoring would return, without
// starting anything.
func (e *Engine) ValidateHost(host *database.Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	_, err := e.registry.bind(host)
	return err
}

// StopMonitoring cancels the host's loops and returns once they have exited.
// No-op for hosts that are not monitored.
func (e *Engine) StopMonitoring(hostID string) {
	loops := e.scheduler.Running(hostID)
	e.scheduler.Stop(hostID)
	if loops == 0 {
		return
	}
	e.updateLoopMetrics()
	logrus.WithField("host_id", hostID).Info("Monitoring stopped")
}

// RemoveHost stops monitoring, drops aggregated state and deletes the host.
func (e *Engine) RemoveHost(ctx context.Context, hostID string) error {
	e.scheduler.Stop(hostID)
	e.updateLoopMetrics()

	if e.metrics != nil {
		e.metrics.RemoveHost(hostID)
	}
	e.aggregator.Forget(hostID)

	err := e.store.DeleteHost(ctx, hostID)
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation("delete_host", err)
	}
	return err
}

// CheckOnce runs every enabled method of the host once, concurrently, and
// returns the results in method order. Loops and aggregated status are not touched.
func (e *Engine) CheckOnce(ctx context.Context, host *database.Host) ([]CheckResult, error) {
	bound, err := e.registry.bind(host)
	if err != nil {
		return nil, err
	}

	results := make([]*CheckResult, len(bound))
	errs := make([]error, len(bound))

	var wg sync.WaitGroup
	for i, b := range bound {
		wg.Add(1)
		go func(i int, b boundMethod) {
			defer wg.Done()
			e.commandIssued(host, b.method)
			results[i], errs[i] = b.checker.Check(ctx, host, b.method)
		}(i, b)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		out = append(out, *r)
		e.events.Publish(Event{Type: EventResult, HostID: r.HostID, Result: r})
	}
	return out, nil
}

func (e *Engine) commandIssued(host *database.Host, method database.CheckMethod) {
	e.events.Publish(Event{
		Type:    EventCommand,
		HostID:  host.ID,
		Command: describe(host, method),
	})
}

func (e *Engine) resultReceived(result *CheckResult) {
	// Publishing under the host lock keeps each host's results and
	// transitions on the bus in the order they were applied.
	tracked := e.aggregator.ApplyFunc(result, func(state HostState, transition *StatusTransition) {
		e.recordResult(result, state.Name)
		if e.metrics != nil {
			e.metrics.UpdateHostStatus(result.HostID, state.Name, state.Group, string(state.Status), state.AverageMs)
		}
		e.publishResult(result)
		if transition != nil {
			e.publishTransition(transition, state.Error)
		}
	})
	if !tracked {
		e.recordResult(result, result.HostID)
		e.publishResult(result)
	}
}

func (e *Engine) recordResult(result *CheckResult, name string) {
	if e.metrics != nil {
		e.metrics.RecordCheckResult(name, result.Key().String(), result.Success,
			time.Duration(result.ElapsedMs)*time.Millisecond)
	}
}

func (e *Engine) publishResult(result *CheckResult) {
	e.events.Publish(Event{
		Type:      EventResult,
		Timestamp: result.Timestamp,
		HostID:    result.HostID,
		Result:    result,
	})
}

func (e *Engine) publishTransition(transition *StatusTransition, lastError string) {
	fields := logrus.Fields{
		"host": transition.HostName,
		"from": transition.From,
		"to":   transition.To,
	}
	if transition.To == StatusOffline {
		logrus.WithFields(fields).WithField("error", lastError).Warn("Host went offline")
	} else {
		logrus.WithFields(fields).Info("Host back online")
	}

	if e.metrics != nil {
		e.metrics.RecordTransition(transition.HostName, string(transition.To))
	}

	e.events.Publish(Event{
		Type:       EventTransition,
		Timestamp:  transition.Timestamp,
		HostID:     transition.HostID,
		Transition: transition,
	})
}

// syncConfig adds configured seed hosts to the repository and refreshes the
// ones already stored under the same id.
func (e *Engine) syncConfig(ctx context.Context) error {
	var errs error
	for _, hostCfg := range e.config.Hosts {
		host := hostCfg.ToHost()

		existing, err := e.store.GetHost(ctx, host.ID)
		switch {
		case errors.Is(err, database.ErrHostNotFound):
			err = e.store.AddHost(ctx, &host)
			e.recordDB("add_host", err)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("seed host %s: %w", host.Name, err))
				continue
			}
			logrus.WithField("host", host.Name).Info("Created host")
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("seed host %s: %w", host.Name, err))
		default:
			host.CreatedAt = existing.CreatedAt
			err = e.store.UpdateHost(ctx, &host)
			e.recordDB("update_host", err)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("seed host %s: %w", host.Name, err))
			}
		}
	}
	return errs
}

func (e *Engine) recordDB(op string, err error) {
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation(op, err)
	}
}

func (e *Engine) updateLoopMetrics() {
	if e.metrics != nil {
		e.metrics.SetActiveLoops(e.scheduler.ActiveLoops())
	}
}

func (e *Engine) Events() *EventBus { return e.events }

func (e *Engine) Aggregator() *Aggregator { return e.aggregator }

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Purger() *Purger { return e.purger }

// Running reports how many loops the host currently has.
func (e *Engine) Running(hostID string) int {
	return e.scheduler.Running(hostID)
}

func (e *Engine) ActiveLoops() int {
	return e.scheduler.ActiveLoops()
}
