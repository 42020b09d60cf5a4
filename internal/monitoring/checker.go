// internal/monitoring/checker.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hostmonitor/internal/database"
)

// ErrUnknownMethod is returned when no checker is registered for a method type.
var ErrUnknownMethod = errors.New("no checker registered for method")

// Checker performs one reachability probe. Network failures are reported in
// the result; a non-nil error means misconfiguration or cancellation.
type Checker interface {
	Type() database.MethodType
	Check(ctx context.Context, host *database.Host, method database.CheckMethod) (*CheckResult, error)
}

// CheckResult is the immutable outcome of one probe.
type CheckResult struct {
	HostID    string              `json:"host_id"`
	Method    database.MethodType `json:"method"`
	Port      int                 `json:"port,omitempty"`
	Success   bool                `json:"success"`
	ElapsedMs int64               `json:"elapsed_ms"`
	Timestamp time.Time           `json:"timestamp"`
	Error     string              `json:"error,omitempty"`
}

func (r *CheckResult) Key() database.MethodKey {
	return database.CheckMethod{Type: r.Method, Port: r.Port}.Key()
}

func newResult(host *database.Host, method database.CheckMethod) *CheckResult {
	r := &CheckResult{
		HostID:    host.ID,
		Method:    method.Type,
		Timestamp: time.Now(),
	}
	if method.Type == database.MethodTCP {
		r.Port = method.Port
	}
	return r
}

// Registry maps a method type to its checker.
type Registry struct {
	mu       sync.RWMutex
	checkers map[database.MethodType]Checker
}

func NewRegistry(checkers ...Checker) *Registry {
	r := &Registry{checkers: make(map[database.MethodType]Checker)}
	for _, c := range checkers {
		r.Register(c)
	}
	return r
}

// Register replaces any checker already bound to the same type.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[c.Type()] = c
}

func (r *Registry) Resolve(t database.MethodType) (Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.checkers[t]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMethod, t)
	}
	return c, nil
}

func (r *Registry) Types() []database.MethodType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]database.MethodType, 0, len(r.checkers))
	for t := range r.checkers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// boundMethod is an enabled method paired with the checker that runs it.
type boundMethod struct {
	method  database.CheckMethod
	checker Checker
}

// bind validates every enabled method of the host and resolves its checker.
// Nothing is scheduled or probed when it fails.
func (r *Registry) bind(host *database.Host) ([]boundMethod, error) {
	enabled := host.EnabledMethods()
	bound := make([]boundMethod, 0, len(enabled))
	for _, m := range enabled {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("host %s method %s: %w", host.Name, m.Type, err)
		}
		c, err := r.Resolve(m.Type)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", host.Name, err)
		}
		bound = append(bound, boundMethod{method: m, checker: c})
	}
	return bound, nil
}

// describe renders the audit line for a probe about to run.
func describe(host *database.Host, method database.CheckMethod) string {
	target := host.Target()
	switch method.Type {
	case database.MethodPing:
		return fmt.Sprintf("PING %s timeout=%dms", target, method.Timeout().Milliseconds())
	case database.MethodTCP:
		return fmt.Sprintf("TCP %s:%d timeout=%dms", target, method.Port, method.Timeout().Milliseconds())
	default:
		return fmt.Sprintf("%s %s", method.Type, target)
	}
}
