// internal/monitoring/aggregator.go
package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"

	"hostmonitor/internal/database"
)

// HostStatus is the consolidated health of a host.
type HostStatus string

const (
	StatusUnknown  HostStatus = "unknown"
	StatusChecking HostStatus = "checking"
	StatusOnline   HostStatus = "online"
	StatusWarning  HostStatus = "warning"
	StatusOffline  HostStatus = "offline"
)

// ErrorSeparator joins the distinct error messages of a host.
const ErrorSeparator = "; "

const defaultHistorySize = 60

// StatusTransition is published when a host goes offline or comes back from offline.
type StatusTransition struct {
	HostID    string     `json:"host_id"`
	HostName  string     `json:"host_name"`
	From      HostStatus `json:"from"`
	To        HostStatus `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
}

// Summary is the result of deriving a host status from its latest results.
type Summary struct {
	Status    HostStatus
	AverageMs *float64
	Error     string
}

// DeriveStatus computes the host summary from the expected method keys and
// the latest result per key. Results under keys that are not expected are ignored.
func DeriveStatus(expected []database.MethodKey, latest map[database.MethodKey]CheckResult) Summary {
	if len(expected) == 0 {
		return Summary{Status: StatusUnknown}
	}

	results := make([]CheckResult, 0, len(expected))
	complete := true
	for _, key := range expected {
		r, ok := latest[key]
		if !ok {
			complete = false
			continue
		}
		results = append(results, r)
	}

	errMsg := joinErrors(results)
	if !complete {
		return Summary{Status: StatusChecking, Error: errMsg}
	}

	var successes int
	var total int64
	for _, r := range results {
		if r.Success {
			successes++
		}
		total += r.ElapsedMs
	}
	avg := float64(total) / float64(len(results))

	status := StatusWarning
	switch successes {
	case len(results):
		status = StatusOnline
	case 0:
		status = StatusOffline
	}

	return Summary{Status: status, AverageMs: &avg, Error: errMsg}
}

func joinErrors(results []CheckResult) string {
	seen := make(map[string]bool)
	var errs []string
	for _, r := range results {
		msg := strings.TrimSpace(r.Error)
		if msg == "" || seen[msg] {
			continue
		}
		seen[msg] = true
		errs = append(errs, msg)
	}
	return strings.Join(errs, ErrorSeparator)
}

// isAlertTransition reports the transitions worth surfacing to alerting.
func isAlertTransition(from, to HostStatus) bool {
	if from == to {
		return false
	}
	return to == StatusOffline || (from == StatusOffline && to == StatusOnline)
}

// HostState is a point-in-time copy of a host's aggregated status.
type HostState struct {
	HostID    string        `json:"host_id"`
	Name      string        `json:"name"`
	Group     string        `json:"group,omitempty"`
	Status    HostStatus    `json:"status"`
	AverageMs *float64      `json:"average_ms,omitempty"`
	Error     string        `json:"error,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Results   []CheckResult `json:"results"`
	History   []float64     `json:"history,omitempty"`
}

type hostEntry struct {
	mu        sync.Mutex
	name      string
	group     string
	expected  []database.MethodKey
	latest    map[database.MethodKey]CheckResult
	summary   Summary
	lastCheck time.Time
	history   []float64
}

func (e *hostEntry) state(hostID string) HostState {
	st := HostState{
		HostID:    hostID,
		Name:      e.name,
		Group:     e.group,
		Status:    e.summary.Status,
		Error:     e.summary.Error,
		LastCheck: e.lastCheck,
		History:   append([]float64(nil), e.history...),
	}
	if e.summary.AverageMs != nil {
		avg := *e.summary.AverageMs
		st.AverageMs = &avg
	}
	for _, key := range e.expected {
		if r, ok := e.latest[key]; ok {
			st.Results = append(st.Results, r)
		}
	}
	return st
}

// Aggregator keeps the latest result per (host, method key) and the derived
// status of every tracked host. Each host has its own lock; the map lock is
// only held to look entries up.
type Aggregator struct {
	mu          sync.RWMutex
	hosts       map[string]*hostEntry
	historySize int
}

func NewAggregator(historySize int) *Aggregator {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Aggregator{
		hosts:       make(map[string]*hostEntry),
		historySize: historySize,
	}
}

// Track (re)registers a host with its current enabled methods and clears its
// previous results. Hosts with enabled methods start out Checking.
func (a *Aggregator) Track(host *database.Host) {
	enabled := host.EnabledMethods()
	expected := make([]database.MethodKey, 0, len(enabled))
	seen := make(map[database.MethodKey]bool, len(enabled))
	for _, m := range enabled {
		key := m.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		expected = append(expected, key)
	}

	entry := &hostEntry{
		name:     host.Name,
		group:    host.Group,
		expected: expected,
		latest:   make(map[database.MethodKey]CheckResult),
		summary:  Summary{Status: StatusUnknown},
	}
	if len(expected) > 0 {
		entry.summary.Status = StatusChecking
	}

	a.mu.Lock()
	if prev, ok := a.hosts[host.ID]; ok {
		prev.mu.Lock()
		entry.history = prev.history
		prev.mu.Unlock()
	}
	a.hosts[host.ID] = entry
	a.mu.Unlock()
}

// Forget drops all state for a host.
func (a *Aggregator) Forget(hostID string) {
	a.mu.Lock()
	delete(a.hosts, hostID)
	a.mu.Unlock()
}

func (a *Aggregator) entry(hostID string) *hostEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hosts[hostID]
}

// Apply records a result and recomputes the host status in full. It returns
// the new state and, for alert-worthy changes, the transition. Results for
// untracked hosts are ignored (ok is false).
func (a *Aggregator) Apply(result *CheckResult) (state HostState, transition *StatusTransition, ok bool) {
	ok = a.ApplyFunc(result, func(st HostState, tr *StatusTransition) {
		state, transition = st, tr
	})
	return state, transition, ok
}

// ApplyFunc is Apply with the outcome handed to fn while the host is still
// locked, so fn observes the results of one host in the order they were
// applied. fn must not call back into the aggregator for the same host.
func (a *Aggregator) ApplyFunc(result *CheckResult, fn func(HostState, *StatusTransition)) bool {
	e := a.entry(result.HostID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.latest[result.Key()] = *result
	if result.Timestamp.After(e.lastCheck) {
		e.lastCheck = result.Timestamp
	}

	prev := e.summary.Status
	e.summary = DeriveStatus(e.expected, e.latest)

	if e.summary.AverageMs != nil {
		e.history = append(e.history, *e.summary.AverageMs)
		if len(e.history) > a.historySize {
			e.history = append([]float64(nil), e.history[len(e.history)-a.historySize:]...)
		}
	}

	var transition *StatusTransition
	if isAlertTransition(prev, e.summary.Status) {
		transition = &StatusTransition{
			HostID:    result.HostID,
			HostName:  e.name,
			From:      prev,
			To:        e.summary.Status,
			Timestamp: result.Timestamp,
		}
	}

	fn(e.state(result.HostID), transition)
	return true
}

func (a *Aggregator) Get(hostID string) (HostState, bool) {
	e := a.entry(hostID)
	if e == nil {
		return HostState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(hostID), true
}

// Snapshot returns the state of every tracked host ordered by name.
func (a *Aggregator) Snapshot() []HostState {
	a.mu.RLock()
	ids := make([]string, 0, len(a.hosts))
	entries := make([]*hostEntry, 0, len(a.hosts))
	for id, e := range a.hosts {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	a.mu.RUnlock()

	states := make([]HostState, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		states = append(states, e.state(ids[i]))
		e.mu.Unlock()
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Name != states[j].Name {
			return states[i].Name < states[j].Name
		}
		return states[i].HostID < states[j].HostID
	})
	return states
}

// WithStatus returns the tracked hosts currently in the given status.
func (a *Aggregator) WithStatus(status HostStatus) []HostState {
	var out []HostState
	for _, st := range a.Snapshot() {
		if st.Status == status {
			out = append(out, st)
		}
	}
	return out
}

// Counts tallies tracked hosts per status.
func (a *Aggregator) Counts() map[HostStatus]int {
	counts := map[HostStatus]int{
		StatusUnknown:  0,
		StatusChecking: 0,
		StatusOnline:   0,
		StatusWarning:  0,
		StatusOffline:  0,
	}
	for _, st := range a.Snapshot() {
		counts[st.Status]++
	}
	return counts
}

// TrackedIDs lists the host ids the aggregator holds state for.
func (a *Aggregator) TrackedIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.hosts))
	for id := range a.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
