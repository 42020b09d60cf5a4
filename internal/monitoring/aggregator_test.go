package monitoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"hostmonitor/internal/database"
)

var (
	pingKey  = database.MethodKey{Type: database.MethodPing}
	tcp80Key = database.MethodKey{Type: database.MethodTCP, Port: 80}
)

func res(key database.MethodKey, ok bool, ms int64, errMsg string) CheckResult {
	return CheckResult{
		HostID:    "h1",
		Method:    key.Type,
		Port:      key.Port,
		Success:   ok,
		ElapsedMs: ms,
		Timestamp: time.Now(),
		Error:     errMsg,
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		expected []database.MethodKey
		latest   []CheckResult
		status   HostStatus
		avg      float64
		hasAvg   bool
		errMsg   string
	}{
		{
			name:   "no methods",
			status: StatusUnknown,
		},
		{
			name:     "waiting for first results",
			expected: []database.MethodKey{pingKey, tcp80Key},
			latest:   []CheckResult{res(pingKey, true, 12, "")},
			status:   StatusChecking,
		},
		{
			name:     "all succeed",
			expected: []database.MethodKey{pingKey, tcp80Key},
			latest:   []CheckResult{res(pingKey, true, 10, ""), res(tcp80Key, true, 30, "")},
			status:   StatusOnline,
			avg:      20,
			hasAvg:   true,
		},
		{
			name:     "mixed results average includes failures",
			expected: []database.MethodKey{pingKey, tcp80Key},
			latest: []CheckResult{
				res(pingKey, true, 20, ""),
				res(tcp80Key, false, 5000, "connection to port 80 timed out"),
			},
			status: StatusWarning,
			avg:    2510,
			hasAvg: true,
			errMsg: "connection to port 80 timed out",
		},
		{
			name:     "all fail with the same error",
			expected: []database.MethodKey{pingKey, tcp80Key},
			latest:   []CheckResult{res(pingKey, false, 0, "TimedOut"), res(tcp80Key, false, 0, "TimedOut")},
			status:   StatusOffline,
			avg:      0,
			hasAvg:   true,
			errMsg:   "TimedOut",
		},
		{
			name:     "distinct errors joined in method order",
			expected: []database.MethodKey{pingKey, tcp80Key},
			latest:   []CheckResult{res(pingKey, false, 4, "no reply"), res(tcp80Key, false, 6, "refused")},
			status:   StatusOffline,
			avg:      5,
			hasAvg:   true,
			errMsg:   "no reply; refused",
		},
		{
			name:     "results for unexpected keys are ignored",
			expected: []database.MethodKey{pingKey},
			latest:   []CheckResult{res(pingKey, true, 8, ""), res(tcp80Key, false, 1000, "refused")},
			status:   StatusOnline,
			avg:      8,
			hasAvg:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latest := make(map[database.MethodKey]CheckResult)
			for _, r := range tt.latest {
				latest[r.Key()] = r
			}

			got := DeriveStatus(tt.expected, latest)
			if got.Status != tt.status {
				t.Errorf("status = %s, want %s", got.Status, tt.status)
			}
			if got.Error != tt.errMsg {
				t.Errorf("error = %q, want %q", got.Error, tt.errMsg)
			}
			if tt.hasAvg {
				if got.AverageMs == nil || *got.AverageMs != tt.avg {
					t.Errorf("average = %v, want %v", got.AverageMs, tt.avg)
				}
			} else if got.AverageMs != nil {
				t.Errorf("average = %v, want none", *got.AverageMs)
			}
		})
	}
}

func TestAggregatorTransitions(t *testing.T) {
	agg := NewAggregator(0)
	host := testHost("h1", pingMethod())
	agg.Track(host)

	st, ok := agg.Get("h1")
	if !ok || st.Status != StatusChecking {
		t.Fatalf("tracked host = %+v, %v", st, ok)
	}

	steps := []struct {
		success bool
		status  HostStatus
		alert   bool
	}{
		{true, StatusOnline, false},
		{false, StatusOffline, true},
		{false, StatusOffline, false},
		{true, StatusOnline, true},
		{true, StatusOnline, false},
	}

	for i, step := range steps {
		r := res(pingKey, step.success, 10, "")
		state, transition, ok := agg.Apply(&r)
		if !ok {
			t.Fatalf("step %d: result ignored", i)
		}
		if state.Status != step.status {
			t.Fatalf("step %d: status = %s, want %s", i, state.Status, step.status)
		}
		if (transition != nil) != step.alert {
			t.Fatalf("step %d: transition = %+v, want alert=%v", i, transition, step.alert)
		}
		if transition != nil && transition.To != step.status {
			t.Fatalf("step %d: transition to %s", i, transition.To)
		}
	}
}

func TestAggregatorWarningIsNotAnAlert(t *testing.T) {
	agg := NewAggregator(0)
	agg.Track(testHost("h1", pingMethod(), tcpMethod(80)))

	apply := func(r CheckResult) *StatusTransition {
		_, tr, _ := agg.Apply(&r)
		return tr
	}

	apply(res(pingKey, false, 0, "no reply"))
	if tr := apply(res(tcp80Key, false, 0, "refused")); tr == nil || tr.From != StatusChecking {
		t.Fatalf("expected checking -> offline, got %+v", tr)
	}
	// offline -> warning is not reported, and warning -> online neither.
	if tr := apply(res(pingKey, true, 5, "")); tr != nil {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if tr := apply(res(tcp80Key, true, 5, "")); tr != nil {
		t.Fatalf("unexpected transition %+v", tr)
	}
}

func TestAggregatorTrackResetsResultsKeepsHistory(t *testing.T) {
	agg := NewAggregator(0)
	host := testHost("h1", pingMethod())
	agg.Track(host)

	r := res(pingKey, true, 42, "")
	agg.Apply(&r)

	host.Methods = append(host.Methods, tcpMethod(80))
	agg.Track(host)

	st, _ := agg.Get("h1")
	if st.Status != StatusChecking || len(st.Results) != 0 {
		t.Fatalf("state after retrack = %+v", st)
	}
	if len(st.History) != 1 || st.History[0] != 42 {
		t.Fatalf("history = %v", st.History)
	}

	agg.Track(testHost("h1"))
	if st, _ := agg.Get("h1"); st.Status != StatusUnknown {
		t.Fatalf("host without methods = %s", st.Status)
	}
}

func TestAggregatorHistoryCap(t *testing.T) {
	agg := NewAggregator(3)
	agg.Track(testHost("h1", pingMethod()))

	for i := 1; i <= 5; i++ {
		r := res(pingKey, true, int64(i), "")
		agg.Apply(&r)
	}

	st, _ := agg.Get("h1")
	if fmt.Sprint(st.History) != "[3 4 5]" {
		t.Fatalf("history = %v", st.History)
	}
}

func TestAggregatorApplyFuncOrdersTransitions(t *testing.T) {
	agg := NewAggregator(0)
	agg.Track(testHost("h1", pingMethod()))

	var transitions []StatusTransition
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r := res(pingKey, (i+w)%2 == 0, 10, "")
				agg.ApplyFunc(&r, func(_ HostState, tr *StatusTransition) {
					if tr != nil {
						transitions = append(transitions, *tr)
					}
				})
			}
		}(w)
	}
	wg.Wait()

	if len(transitions) == 0 {
		t.Fatal("no transitions")
	}
	for i, tr := range transitions {
		want := StatusOffline
		if i%2 == 1 {
			want = StatusOnline
		}
		if tr.To != want {
			t.Fatalf("transition %d = %s -> %s, want -> %s", i, tr.From, tr.To, want)
		}
		if i > 0 && tr.From != transitions[i-1].To {
			t.Fatalf("transition %d starts from %s after -> %s", i, tr.From, transitions[i-1].To)
		}
	}

	st, _ := agg.Get("h1")
	if last := transitions[len(transitions)-1]; last.To != st.Status {
		t.Fatalf("last transition -> %s, final status %s", last.To, st.Status)
	}
}

func TestAggregatorIgnoresUntrackedHosts(t *testing.T) {
	agg := NewAggregator(0)
	r := res(pingKey, true, 1, "")
	if _, tr, ok := agg.Apply(&r); ok || tr != nil {
		t.Fatal("untracked result should be ignored")
	}

	agg.Track(testHost("h1", pingMethod()))
	agg.Forget("h1")
	if _, ok := agg.Get("h1"); ok {
		t.Fatal("forgotten host still present")
	}
}

func TestAggregatorSnapshotAndCounts(t *testing.T) {
	agg := NewAggregator(0)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		agg.Track(testHost(id, pingMethod()))
	}
	r := res(pingKey, false, 0, "no reply")
	r.HostID = "mid"
	agg.Apply(&r)

	snap := agg.Snapshot()
	if len(snap) != 3 || snap[0].Name != "alpha" || snap[2].Name != "zeta" {
		t.Fatalf("snapshot order = %+v", snap)
	}

	counts := agg.Counts()
	if counts[StatusChecking] != 2 || counts[StatusOffline] != 1 || counts[StatusOnline] != 0 {
		t.Fatalf("counts = %v", counts)
	}
	if off := agg.WithStatus(StatusOffline); len(off) != 1 || off[0].HostID != "mid" {
		t.Fatalf("offline = %+v", off)
	}
}
