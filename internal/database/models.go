// internal/database/models.go
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTimeoutMs       = 5000
	DefaultIntervalSeconds = 60
)

// MethodType identifies a reachability probe.
type MethodType string

const (
	MethodPing MethodType = "ping"
	MethodTCP  MethodType = "tcp"
)

var (
	ErrHostNotFound  = errors.New("host not found")
	ErrPortRequired  = errors.New("tcp method requires a port")
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
	ErrMissingName   = errors.New("host name is required")
	ErrMissingTarget = errors.New("hostname or ip address is required")
)

// HostType is informational only and never affects monitoring.
type HostType string

const (
	HostTypePC   HostType = "pc"
	HostTypeDB   HostType = "db"
	HostTypeAP   HostType = "ap"
	HostTypeFile HostType = "file"
	HostTypeWeb  HostType = "web"
	HostTypeAPI  HostType = "api"
)

type Host struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Hostname  string        `json:"hostname" yaml:"hostname"`
	IPAddress string        `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Address   string        `json:"address" yaml:"-"`
	Group     string        `json:"group,omitempty" yaml:"group,omitempty"`
	Type      HostType      `json:"type,omitempty" yaml:"type,omitempty"`
	Methods   []CheckMethod `json:"methods" yaml:"methods"`
	CreatedAt time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"-"`
}

type CheckMethod struct {
	Type            MethodType `json:"type" yaml:"type"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	Port            int        `json:"port,omitempty" yaml:"port,omitempty"`
	TimeoutMs       int        `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty" yaml:"interval_seconds,omitempty"`
}

// MethodKey identifies one check loop of a host and one slot of its latest results.
type MethodKey struct {
	Type MethodType `json:"type"`
	Port int        `json:"port,omitempty"`
}

func (k MethodKey) String() string {
	if k.Port == 0 {
		return string(k.Type)
	}
	return fmt.Sprintf("%s:%d", k.Type, k.Port)
}

func (m CheckMethod) Key() MethodKey {
	if m.Type != MethodTCP {
		return MethodKey{Type: m.Type}
	}
	return MethodKey{Type: m.Type, Port: m.Port}
}

// Timeout falls back to the default for non-positive values instead of failing,
// persisted files written by older versions may carry zeros.
func (m CheckMethod) Timeout() time.Duration {
	if m.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

func (m CheckMethod) Interval() time.Duration {
	if m.IntervalSeconds <= 0 {
		return DefaultIntervalSeconds * time.Second
	}
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Validate checks the method-specific invariants. It does not know which
// method types have a checker registered; that is the registry's job.
func (m CheckMethod) Validate() error {
	if m.Type != MethodTCP {
		return nil
	}
	if m.Port == 0 {
		return ErrPortRequired
	}
	if m.Port < 0 || m.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, m.Port)
	}
	return nil
}

// EnabledMethods returns the enabled methods in configuration order.
func (h *Host) EnabledMethods() []CheckMethod {
	methods := make([]CheckMethod, 0, len(h.Methods))
	for _, m := range h.Methods {
		if m.Enabled {
			methods = append(methods, m)
		}
	}
	return methods
}

// Target is the address probes are sent to.
func (h *Host) Target() string {
	if h.Address != "" {
		return h.Address
	}
	return ResolveAddress(h.Hostname, h.IPAddress)
}

// DisplayAddress renders "hostname (ip)" when both are known.
func (h *Host) DisplayAddress() string {
	if h.IPAddress == "" || h.IPAddress == h.Hostname {
		return h.Target()
	}
	if h.Hostname == "" {
		return h.IPAddress
	}
	return fmt.Sprintf("%s (%s)", h.Hostname, h.IPAddress)
}

// ResolveAddress picks the probe target: an explicit IP wins over the hostname.
func ResolveAddress(hostname, ipAddress string) string {
	if ip := strings.TrimSpace(ipAddress); ip != "" {
		return ip
	}
	return strings.TrimSpace(hostname)
}

// Normalize trims user input and resolves Address. Called once when a host is saved.
func (h *Host) Normalize() {
	h.Name = strings.TrimSpace(h.Name)
	h.Hostname = strings.TrimSpace(h.Hostname)
	h.IPAddress = strings.TrimSpace(h.IPAddress)
	h.Address = ResolveAddress(h.Hostname, h.IPAddress)
}

func (h *Host) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return ErrMissingName
	}
	if ResolveAddress(h.Hostname, h.IPAddress) == "" {
		return ErrMissingTarget
	}
	for i, m := range h.Methods {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("method %d (%s): %w", i, m.Type, err)
		}
	}
	return nil
}

type HostFilters struct {
	Group string
	Type  HostType
}

func (f HostFilters) Match(h *Host) bool {
	if f.Group != "" && h.Group != f.Group {
		return false
	}
	if f.Type != "" && h.Type != f.Type {
		return false
	}
	return true
}

// Stats summarizes what the repository holds.
type Stats struct {
	TotalHosts     int   `json:"total_hosts"`
	TotalMethods   int   `json:"total_methods"`
	EnabledMethods int   `json:"enabled_methods"`
	DatabaseSize   int64 `json:"database_size_bytes"`
}
