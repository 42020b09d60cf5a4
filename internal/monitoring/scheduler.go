// internal/monitoring/scheduler.go - per-host check loops
package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"hostmonitor/internal/database"
)

// sink receives everything a loop produces.
type sink interface {
	commandIssued(host *database.Host, method database.CheckMethod)
	resultReceived(result *CheckResult)
}

// tickerFunc returns a tick channel and its stop function.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler owns the running check loops, grouped per host. The map lock is
// only taken to find or remove a host's supervisor; starting and stopping
// loops happens under the supervisor's own lock, so hosts never wait on each other.
type Scheduler struct {
	mu    sync.Mutex
	hosts map[string]*supervisor

	sink      sink
	newTicker tickerFunc
	active    atomic.Int64
}

type supervisor struct {
	mu      sync.Mutex
	hostID  string
	cancel  context.CancelFunc
	done    chan struct{}
	loops   int
	gen     uint64
	retired bool
}

func NewScheduler(s sink) *Scheduler {
	return &Scheduler{
		hosts:     make(map[string]*supervisor),
		sink:      s,
		newTicker: realTicker,
	}
}

// lockSupervisor returns the host's live supervisor, locked, creating it when needed.
func (s *Scheduler) lockSupervisor(hostID string) *supervisor {
	for {
		s.mu.Lock()
		sup, ok := s.hosts[hostID]
		if !ok {
			sup = &supervisor{hostID: hostID}
			s.hosts[hostID] = sup
		}
		s.mu.Unlock()

		sup.mu.Lock()
		if !sup.retired {
			return sup
		}
		// Stopped and removed while we waited; look again.
		sup.mu.Unlock()
	}
}

// Start replaces the host's loops with one loop per bound method. The reset
// hook runs after the previous loops have exited and before new ones begin.
func (s *Scheduler) Start(host *database.Host, bound []boundMethod, reset func()) {
	sup := s.lockSupervisor(host.ID)
	defer sup.mu.Unlock()

	s.stopLocked(sup)
	if reset != nil {
		reset()
	}
	if len(bound) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.cancel = cancel
	sup.done = make(chan struct{})
	sup.loops = len(bound)
	sup.gen++

	snapshot := *host
	snapshot.Methods = append([]database.CheckMethod(nil), host.Methods...)

	var wg sync.WaitGroup
	for _, b := range bound {
		wg.Add(1)
		s.active.Add(1)
		go func(b boundMethod) {
			defer wg.Done()
			defer s.active.Add(-1)
			s.runLoop(ctx, &snapshot, b)
		}(b)
	}

	done := sup.done
	go func() {
		wg.Wait()
		close(done)
	}()

	logrus.WithFields(logrus.Fields{
		"host":       host.Name,
		"loops":      len(bound),
		"generation": sup.gen,
	}).Debug("Started check loops")
}

// Stop cancels the host's loops and waits for them to exit. No-op when the
// host has nothing running.
func (s *Scheduler) Stop(hostID string) {
	s.mu.Lock()
	sup, ok := s.hosts[hostID]
	s.mu.Unlock()
	if !ok {
		return
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.retired {
		return
	}

	s.stopLocked(sup)
	sup.retired = true

	s.mu.Lock()
	if s.hosts[hostID] == sup {
		delete(s.hosts, hostID)
	}
	s.mu.Unlock()
}

// StopAll stops every host.
func (s *Scheduler) StopAll() {
	for _, id := range s.HostIDs() {
		s.Stop(id)
	}
}

func (s *Scheduler) stopLocked(sup *supervisor) {
	if sup.cancel == nil {
		return
	}
	sup.cancel()
	<-sup.done

	logrus.WithFields(logrus.Fields{
		"host_id":    sup.hostID,
		"loops":      sup.loops,
		"generation": sup.gen,
	}).Debug("Stopped check loops")

	sup.cancel = nil
	sup.done = nil
	sup.loops = 0
}

// Running returns the number of live loops for a host.
func (s *Scheduler) Running(hostID string) int {
	s.mu.Lock()
	sup, ok := s.hosts[hostID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.loops
}

// ActiveLoops counts loop goroutines that have not returned yet, across all hosts.
func (s *Scheduler) ActiveLoops() int {
	return int(s.active.Load())
}

func (s *Scheduler) HostIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.hosts))
	for id := range s.hosts {
		ids = append(ids, id)
	}
	return ids
}

// runLoop checks once immediately, then once per tick until cancelled.
// Ticks are fixed-period from loop start; a check that overruns its interval
// makes the ticker drop the missed ticks rather than queue them.
func (s *Scheduler) runLoop(ctx context.Context, host *database.Host, b boundMethod) {
	if !s.runCheck(ctx, host, b) {
		return
	}

	ticks, stop := s.newTicker(b.method.Interval())
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if !s.runCheck(ctx, host, b) {
				return
			}
		}
	}
}

// runCheck performs one probe and emits its result. It returns false when
// the loop must end.
func (s *Scheduler) runCheck(ctx context.Context, host *database.Host, b boundMethod) bool {
	if ctx.Err() != nil {
		return false
	}

	s.sink.commandIssued(host, b.method)
	result, err := b.checker.Check(ctx, host, b.method)

	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"host":   host.Name,
			"method": b.method.Key().String(),
		}).Error("Check loop aborted by checker error")
		return false
	}
	if result == nil {
		return true
	}

	s.sink.resultReceived(result)
	return true
}
