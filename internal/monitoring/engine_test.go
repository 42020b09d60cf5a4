package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"hostmonitor/internal/config"
	"hostmonitor/internal/database"
)

func TestStartMonitoringPublishesResults(t *testing.T) {
	e, ping, tcp, _ := newTestEngine(t)
	sub := e.Events().Subscribe(32, EventResult)
	defer sub.Close()

	host := testHost("h1", pingMethod(), tcpMethod(80))
	if err := e.StartMonitoring(host); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}

	nextEvent(t, sub)
	nextEvent(t, sub)
	if ping.Calls() != 1 || tcp.Calls() != 1 {
		t.Fatalf("calls = %d/%d", ping.Calls(), tcp.Calls())
	}

	st, ok := e.Aggregator().Get("h1")
	if !ok || st.Status != StatusOnline || len(st.Results) != 2 {
		t.Fatalf("state = %+v", st)
	}

	commands := 0
	for _, ev := range e.Events().Since(0) {
		if ev.Type == EventCommand {
			commands++
		}
	}
	if commands != 2 {
		t.Fatalf("command events = %d", commands)
	}
}

func TestStartMonitoringTwiceKeepsOneGeneration(t *testing.T) {
	e, ping, tcp, _ := newTestEngine(t)
	host := testHost("h1", pingMethod(), tcpMethod(80))

	if err := e.StartMonitoring(host); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first checks", func() bool { return ping.Calls() == 1 && tcp.Calls() == 1 })

	if err := e.StartMonitoring(host); err != nil {
		t.Fatal(err)
	}
	if e.Running("h1") != 2 || e.ActiveLoops() != 2 {
		t.Fatalf("running = %d, active = %d", e.Running("h1"), e.ActiveLoops())
	}
	if ctx := ping.contexts()[0]; ctx.Err() == nil {
		t.Fatal("first generation ping loop still running")
	}
	if ctx := tcp.contexts()[0]; ctx.Err() == nil {
		t.Fatal("first generation tcp loop still running")
	}
}

func TestStartMonitoringRejectsInvalidMethods(t *testing.T) {
	e, ping, tcp, _ := newTestEngine(t)

	host := testHost("h1", pingMethod(), database.CheckMethod{Type: database.MethodTCP, Enabled: true})
	err := e.StartMonitoring(host)
	if !errors.Is(err, database.ErrPortRequired) {
		t.Fatalf("err = %v, want ErrPortRequired", err)
	}

	time.Sleep(20 * time.Millisecond)
	if ping.Calls() != 0 || tcp.Calls() != 0 || e.Running("h1") != 0 {
		t.Fatalf("nothing should run: calls %d/%d running %d", ping.Calls(), tcp.Calls(), e.Running("h1"))
	}
	if evs := e.Events().Since(0); len(evs) != 0 {
		t.Fatalf("events = %+v", evs)
	}

	host.Methods = []database.CheckMethod{{Type: "http", Enabled: true}}
	if err := e.ValidateHost(host); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}
}

func TestStopMonitoring(t *testing.T) {
	e, ping, _, ticker := newTestEngine(t)

	// Idle hosts are a no-op.
	e.StopMonitoring("nobody")

	host := testHost("h1", pingMethod())
	if err := e.StartMonitoring(host); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ticker", func() bool { return ticker.created() == 1 })

	e.StopMonitoring("h1")
	if e.Running("h1") != 0 || e.ActiveLoops() != 0 {
		t.Fatalf("running = %d, active = %d", e.Running("h1"), e.ActiveLoops())
	}

	ticker.tick()
	time.Sleep(20 * time.Millisecond)
	if ping.Calls() != 1 {
		t.Fatalf("calls after stop = %d", ping.Calls())
	}

	// Last known status stays visible.
	if st, ok := e.Aggregator().Get("h1"); !ok || st.Status != StatusOnline {
		t.Fatalf("state = %+v, %v", st, ok)
	}
}

func TestOfflineTransitionIsPublished(t *testing.T) {
	e, ping, _, ticker := newTestEngine(t)
	ping.success = false
	ping.errMsg = "no reply"

	sub := e.Events().Subscribe(8, EventTransition)
	defer sub.Close()

	if err := e.StartMonitoring(testHost("h1", pingMethod())); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, sub)
	if ev.Transition == nil || ev.Transition.To != StatusOffline || ev.Transition.From != StatusChecking {
		t.Fatalf("event = %+v", ev)
	}
	if ev.HostID != "h1" || ev.Transition.HostName != "h1" {
		t.Fatalf("event host = %q / %+v", ev.HostID, ev.Transition)
	}

	// Further failures do not repeat the alert.
	waitFor(t, "ticker", func() bool { return ticker.created() == 1 })
	ticker.tick()
	waitFor(t, "second check", func() bool { return ping.Calls() == 2 })
	if evs := drain(sub); len(evs) != 0 {
		t.Fatalf("repeated transition %+v", evs)
	}

	st, _ := e.Aggregator().Get("h1")
	if st.Error != "no reply" {
		t.Fatalf("error = %q", st.Error)
	}
}

func TestCheckOnce(t *testing.T) {
	e, ping, tcp, _ := newTestEngine(t)
	ping.delay = 20 * time.Millisecond
	tcp.delay = 60 * time.Millisecond

	host := testHost("h1", tcpMethod(443), pingMethod())
	start := time.Now()
	results, err := e.CheckOnce(context.Background(), host)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}

	if len(results) != 2 || results[0].Method != database.MethodTCP || results[1].Method != database.MethodPing {
		t.Fatalf("results = %+v", results)
	}
	if elapsed < 60*time.Millisecond {
		t.Fatalf("returned after %v, before the slowest check", elapsed)
	}
	if _, ok := e.Aggregator().Get("h1"); ok {
		t.Fatal("one-off checks must not touch aggregated status")
	}
	if e.Running("h1") != 0 {
		t.Fatal("one-off checks must not start loops")
	}

	var commands, resultsSeen int
	for _, ev := range e.Events().Since(0) {
		switch ev.Type {
		case EventCommand:
			commands++
		case EventResult:
			resultsSeen++
		}
	}
	if commands != 2 || resultsSeen != 2 {
		t.Fatalf("events: %d commands, %d results", commands, resultsSeen)
	}
}

func TestCheckOnceErrors(t *testing.T) {
	e, _, tcp, _ := newTestEngine(t)

	_, err := e.CheckOnce(context.Background(), testHost("h1", database.CheckMethod{Type: "snmp", Enabled: true}))
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}

	tcp.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.CheckOnce(ctx, testHost("h1", tcpMethod(80)))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRemoveHost(t *testing.T) {
	store := database.NewMemoryStore()
	e, _, _, _ := newTestEngineWith(t, config.Default(), store)
	ctx := context.Background()

	host := testHost("", pingMethod())
	host.Name = "nas"
	if err := store.AddHost(ctx, host); err != nil {
		t.Fatal(err)
	}
	if err := e.StartMonitoring(host); err != nil {
		t.Fatal(err)
	}

	if err := e.RemoveHost(ctx, host.ID); err != nil {
		t.Fatalf("RemoveHost: %v", err)
	}
	if e.Running(host.ID) != 0 {
		t.Fatal("loops still running")
	}
	if _, ok := e.Aggregator().Get(host.ID); ok {
		t.Fatal("status not forgotten")
	}
	if _, err := store.GetHost(ctx, host.ID); !errors.Is(err, database.ErrHostNotFound) {
		t.Fatalf("GetHost err = %v", err)
	}
}

func TestEngineStartSeedsOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts = []config.HostConfig{
		{ID: "router", Name: "Router", IPAddress: "10.0.0.1", Methods: []config.MethodConfig{{Type: "ping"}}},
		{ID: "broken", Name: "Broken", IPAddress: "10.0.0.2", Methods: []config.MethodConfig{{Type: "tcp"}}},
	}
	store := database.NewMemoryStore()
	e, ping, _, _ := newTestEngineWith(t, cfg, store)
	ctx := context.Background()

	err := e.Start(ctx)
	if !errors.Is(err, database.ErrPortRequired) {
		t.Fatalf("Start err = %v, want the broken seed host reported", err)
	}
	defer e.Stop()

	if !e.IsRunning() || e.Running("router") != 1 {
		t.Fatalf("running = %v, router loops = %d", e.IsRunning(), e.Running("router"))
	}
	waitFor(t, "router check", func() bool { return ping.Calls() >= 1 })

	e.Stop()
	if e.IsRunning() || e.ActiveLoops() != 0 {
		t.Fatalf("running = %v, active = %d", e.IsRunning(), e.ActiveLoops())
	}

	// A host deleted at runtime is not re-seeded on the next start.
	if err := store.DeleteHost(ctx, "router"); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if e.Running("router") != 0 {
		t.Fatal("router was seeded again")
	}
}

func TestSeedHostWithoutIDSurvivesRestarts(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts = []config.HostConfig{
		{Name: "NAS", IPAddress: "10.0.0.5", Methods: []config.MethodConfig{{Type: "ping"}}},
	}
	store := database.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, _, _, _ := newTestEngineWith(t, cfg, store)
		if err := e.Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		e.Stop()
	}

	hosts, err := store.ListHosts(ctx, database.HostFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 || hosts[0].ID != cfg.Hosts[0].SeedID() {
		t.Fatalf("hosts after restarts = %+v", hosts)
	}
}

func TestPurgeOrphaned(t *testing.T) {
	store := database.NewMemoryStore()
	e, _, _, _ := newTestEngineWith(t, config.Default(), store)
	ctx := context.Background()

	kept := testHost("", pingMethod())
	kept.Name = "kept"
	if err := store.AddHost(ctx, kept); err != nil {
		t.Fatal(err)
	}
	orphan := testHost("orphan", pingMethod())

	for _, h := range []*database.Host{kept, orphan} {
		if err := e.StartMonitoring(h); err != nil {
			t.Fatal(err)
		}
	}

	n, err := e.Purger().PurgeOrphaned(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, err %v", n, err)
	}
	if e.Running("orphan") != 0 {
		t.Fatal("orphan still running")
	}
	if _, ok := e.Aggregator().Get("orphan"); ok {
		t.Fatal("orphan status kept")
	}
	if e.Running(kept.ID) != 1 {
		t.Fatal("stored host was purged")
	}

	if n, _ := e.Purger().PurgeOrphaned(ctx); n != 0 {
		t.Fatalf("second purge = %d", n)
	}
}
