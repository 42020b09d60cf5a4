// internal/config/pushover.go - Pushover configuration structures
package config

import (
	"errors"
	"time"

	"go.uber.org/multierr"
)

// PushoverConfig holds Pushover notification settings
type PushoverConfig struct {
	Enabled    bool           `yaml:"enabled"`
	APIToken   string         `yaml:"api_token"`
	UserKey    string         `yaml:"user_key"`
	Priority   int            `yaml:"priority"` // -2 (silent) .. 1 (high)
	Sound      string         `yaml:"sound"`
	Device     string         `yaml:"device"`
	Title      string         `yaml:"title"`
	Template   string         `yaml:"template"`
	OnlyOn     []string       `yaml:"only_on"` // offline, online, reminder
	QuietHours *QuietHours    `yaml:"quiet_hours,omitempty"`
	Throttle   ThrottleConfig `yaml:"throttle"`
}

// QuietHours defines when notifications should be suppressed
type QuietHours struct {
	Enabled   bool   `yaml:"enabled"`
	StartHour int    `yaml:"start_hour"` // 0-23
	EndHour   int    `yaml:"end_hour"`   // 0-23
	Timezone  string `yaml:"timezone"`   // IANA timezone, e.g., "America/New_York"
}

// ThrottleConfig limits how many notifications go out per window
type ThrottleConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Window     time.Duration `yaml:"window"`
	MaxPerHost int           `yaml:"max_per_host"`
	MaxTotal   int           `yaml:"max_total"`
}

// Validate ensures the Pushover configuration is valid
func (p *PushoverConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	var errs error
	if p.UserKey == "" {
		errs = multierr.Append(errs, errors.New("user_key is required when enabled"))
	}
	if p.APIToken == "" {
		errs = multierr.Append(errs, errors.New("api_token is required when enabled"))
	}
	// Emergency priority (2) needs receipt polling, which is not supported.
	if p.Priority < -2 || p.Priority > 1 {
		errs = multierr.Append(errs, errors.New("priority must be between -2 and 1"))
	}
	for _, state := range p.OnlyOn {
		switch state {
		case "offline", "online", "reminder":
		default:
			errs = multierr.Append(errs, errors.New("only_on accepts offline, online and reminder, got "+state))
		}
	}

	if p.QuietHours != nil && p.QuietHours.Enabled {
		if p.QuietHours.StartHour < 0 || p.QuietHours.StartHour > 23 {
			errs = multierr.Append(errs, errors.New("quiet hours start_hour must be between 0 and 23"))
		}
		if p.QuietHours.EndHour < 0 || p.QuietHours.EndHour > 23 {
			errs = multierr.Append(errs, errors.New("quiet hours end_hour must be between 0 and 23"))
		}
		if p.QuietHours.Timezone == "" {
			p.QuietHours.Timezone = "UTC"
		}
	}

	if p.Throttle.Enabled && p.Throttle.Window <= 0 {
		errs = multierr.Append(errs, errors.New("throttle window must be positive"))
	}

	return errs
}

// Notifies reports whether messages of the given kind pass the only_on filter.
func (p *PushoverConfig) Notifies(kind string) bool {
	if len(p.OnlyOn) == 0 {
		return true
	}
	for _, k := range p.OnlyOn {
		if k == kind {
			return true
		}
	}
	return false
}

// IsQuietTime checks if t falls within quiet hours
func (q *QuietHours) IsQuietTime(t time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}

	hour := t.In(loc).Hour()
	start, end := q.StartHour, q.EndHour

	// Quiet hours may span midnight
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
