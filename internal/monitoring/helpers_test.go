package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"hostmonitor/internal/config"
	"hostmonitor/internal/database"
)

// fakeChecker succeeds after delay unless configured otherwise.
type fakeChecker struct {
	typ     database.MethodType
	delay   time.Duration
	success bool
	errMsg  string
	err     error
	block   bool

	mu    sync.Mutex
	calls int
	ctxs  []context.Context
}

func (f *fakeChecker) Type() database.MethodType { return f.typ }

func (f *fakeChecker) Check(ctx context.Context, host *database.Host, method database.CheckMethod) (*CheckResult, error) {
	f.mu.Lock()
	f.calls++
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r := newResult(host, method)
	r.Success = f.success
	r.Error = f.errMsg
	r.ElapsedMs = f.delay.Milliseconds()
	return r, nil
}

func (f *fakeChecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChecker) contexts() []context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]context.Context(nil), f.ctxs...)
}

// manualTicker hands out tick channels the test fires by hand.
type manualTicker struct {
	mu    sync.Mutex
	chans []chan time.Time
	stops int
}

func (m *manualTicker) new(d time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	m.chans = append(m.chans, ch)
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		m.stops++
		m.mu.Unlock()
	}
}

// tick fires every ticker handed out so far, dropping ticks nobody reads.
func (m *manualTicker) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.chans {
		select {
		case ch <- time.Now():
		default:
		}
	}
}

func (m *manualTicker) stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *manualTicker) created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chans)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestEngine returns an engine whose ping and tcp checkers are fakes and
// whose loops tick by hand.
func newTestEngine(t *testing.T) (*Engine, *fakeChecker, *fakeChecker, *manualTicker) {
	t.Helper()
	return newTestEngineWith(t, config.Default(), database.NewMemoryStore())
}

func newTestEngineWith(t *testing.T, cfg *config.Config, store database.Store) (*Engine, *fakeChecker, *fakeChecker, *manualTicker) {
	t.Helper()

	engine, err := NewEngine(cfg, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ping := &fakeChecker{typ: database.MethodPing, success: true}
	tcp := &fakeChecker{typ: database.MethodTCP, success: true}
	engine.registry.Register(ping)
	engine.registry.Register(tcp)

	ticker := &manualTicker{}
	engine.scheduler.newTicker = ticker.new

	t.Cleanup(engine.scheduler.StopAll)
	return engine, ping, tcp, ticker
}

func testHost(id string, methods ...database.CheckMethod) *database.Host {
	return &database.Host{
		ID:        id,
		Name:      id,
		IPAddress: "10.0.0.1",
		Address:   "10.0.0.1",
		Methods:   methods,
	}
}

func pingMethod() database.CheckMethod {
	return database.CheckMethod{Type: database.MethodPing, Enabled: true}
}

func tcpMethod(port int) database.CheckMethod {
	return database.CheckMethod{Type: database.MethodTCP, Enabled: true, Port: port}
}

// drain collects events already queued on a subscription.
func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
