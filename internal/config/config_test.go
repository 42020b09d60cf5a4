package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hostmonitor/internal/database"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
hosts:
  - id: router
    name: Router
    ip_address: 192.168.1.1
    methods:
      - type: ping
      - type: tcp
        port: 443
        timeout: 2s
        interval: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != ":8000" || cfg.Database.Type != "boltdb" {
		t.Fatalf("server/database defaults not applied: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Monitoring.EventBuffer != 500 || cfg.Monitoring.HistorySize != 60 {
		t.Fatalf("monitoring defaults = %+v", cfg.Monitoring)
	}
	if cfg.Monitoring.OfflineReminder != 30*time.Second {
		t.Fatalf("offline reminder = %v", cfg.Monitoring.OfflineReminder)
	}
	if !cfg.Monitoring.ShouldAutoStart() {
		t.Fatal("auto start should default to true")
	}

	if len(cfg.Hosts) != 1 {
		t.Fatalf("hosts = %d", len(cfg.Hosts))
	}
	host := cfg.Hosts[0].ToHost()
	if len(host.Methods) != 2 {
		t.Fatalf("methods = %+v", host.Methods)
	}
	ping, tcp := host.Methods[0], host.Methods[1]
	if !ping.Enabled || ping.TimeoutMs != 0 || ping.Timeout() != 5*time.Second {
		t.Fatalf("ping = %+v", ping)
	}
	if tcp.Type != database.MethodTCP || tcp.Port != 443 || tcp.TimeoutMs != 2000 || tcp.IntervalSeconds != 30 {
		t.Fatalf("tcp = %+v", tcp)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "hosts.d"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "hosts.d"), "10-office.yaml", `
hosts:
  - id: nas
    name: NAS
    hostname: nas.lan
    methods:
      - type: ping
`)
	writeFile(t, filepath.Join(dir, "hosts.d"), "20-override.yml", `
hosts:
  - id: router
    name: Core Router
    ip_address: 10.0.0.1
    methods:
      - type: ping
        enabled: false
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  enabled: true
  directory: hosts.d
hosts:
  - id: router
    name: Router
    ip_address: 192.168.1.1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hosts) != 2 {
		t.Fatalf("hosts = %+v", cfg.Hosts)
	}
	if cfg.Hosts[0].Name != "Core Router" {
		t.Fatalf("include did not replace host with the same id: %+v", cfg.Hosts[0])
	}
	if cfg.Hosts[0].ToHost().Methods[0].Enabled {
		t.Fatal("explicit enabled: false ignored")
	}
	if cfg.Hosts[1].ID != "nas" {
		t.Fatalf("second host = %+v", cfg.Hosts[1])
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
database:
  type: postgres
hosts:
  - id: a
    name: A
    hostname: a.lan
    methods:
      - type: tcp
  - id: a
    name: B
    hostname: b.lan
    methods:
      - type: http
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"database.type", "port", "duplicate host ID", `unknown method type "http"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestSeedIDIsStable(t *testing.T) {
	a := HostConfig{Name: "NAS", IPAddress: "192.168.1.10"}
	b := HostConfig{Name: "NAS", IPAddress: "192.168.1.10"}
	if a.SeedID() == "" || a.SeedID() != b.SeedID() {
		t.Fatalf("seed ids differ: %q / %q", a.SeedID(), b.SeedID())
	}
	if a.ToHost().ID != a.SeedID() {
		t.Fatalf("ToHost id = %q", a.ToHost().ID)
	}

	other := HostConfig{Name: "NAS", IPAddress: "192.168.1.11"}
	if other.SeedID() == a.SeedID() {
		t.Fatal("different addresses share a seed id")
	}

	explicit := HostConfig{ID: "nas", Name: "NAS", IPAddress: "192.168.1.10"}
	if explicit.SeedID() != "nas" {
		t.Fatalf("explicit id = %q", explicit.SeedID())
	}
}

func TestLoadRejectsDuplicateSeedsWithoutID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
hosts:
  - name: NAS
    ip_address: 192.168.1.10
    methods:
      - type: ping
  - name: NAS
    ip_address: 192.168.1.10
    methods:
      - type: ping
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate host ID") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsSubSecondInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
hosts:
  - id: router
    name: Router
    ip_address: 192.168.1.1
    methods:
      - type: ping
        interval: 500ms
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "below one second") {
		t.Fatalf("err = %v", err)
	}
}

func TestPushoverValidation(t *testing.T) {
	p := PushoverConfig{Enabled: true, Priority: 2, OnlyOn: []string{"critical"}}
	err := p.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"user_key", "api_token", "priority", "only_on"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	ok := PushoverConfig{Enabled: true, APIToken: "t", UserKey: "u"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestPushoverNotifies(t *testing.T) {
	p := PushoverConfig{}
	if !p.Notifies("reminder") {
		t.Fatal("empty filter should allow everything")
	}
	p.OnlyOn = []string{"offline"}
	if p.Notifies("online") || !p.Notifies("offline") {
		t.Fatal("filter not applied")
	}
}

func TestQuietHours(t *testing.T) {
	q := &QuietHours{Enabled: true, StartHour: 22, EndHour: 6, Timezone: "UTC"}
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 30, 0, 0, time.UTC) }

	for h, want := range map[int]bool{23: true, 2: true, 6: false, 12: false, 22: true} {
		if got := q.IsQuietTime(at(h)); got != want {
			t.Errorf("hour %d: quiet = %v, want %v", h, got, want)
		}
	}

	var none *QuietHours
	if none.IsQuietTime(at(23)) {
		t.Fatal("nil quiet hours should never be quiet")
	}
}
