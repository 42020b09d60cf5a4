// internal/monitoring/plugins.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"hostmonitor/internal/database"
)

var rttRegex = regexp.MustCompile(`time[=<]([\d.]+)\s*ms`)

// PingChecker sends one ICMP echo through the system ping binary.
type PingChecker struct {
	Binary string
	GOOS   string
}

func NewPingChecker() *PingChecker {
	return &PingChecker{Binary: "ping", GOOS: runtime.GOOS}
}

func (p *PingChecker) Type() database.MethodType {
	return database.MethodPing
}

func (p *PingChecker) Check(ctx context.Context, host *database.Host, method database.CheckMethod) (*CheckResult, error) {
	result := newResult(host, method)
	target := host.Target()
	if target == "" {
		return nil, database.ErrMissingTarget
	}

	timeout := method.Timeout()
	// The binary gets its own wait limit; the context bound adds slack for
	// process startup and kills it on cancellation.
	probeCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(probeCtx, p.Binary, pingArgs(p.GOOS, timeout, target)...)
	output, err := cmd.CombinedOutput()
	result.ElapsedMs = time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(probeCtx.Err(), context.DeadlineExceeded):
			result.Error = "TimedOut"
		case errors.As(err, &exitErr):
			result.Error = pingFailure(string(output))
		default:
			result.Error = err.Error()
		}
		return result, nil
	}

	result.Success = true
	if rtt, ok := parseRTT(string(output)); ok {
		result.ElapsedMs = rtt
	}
	return result, nil
}

// pingArgs builds a single-echo invocation; the wait flag differs per platform.
func pingArgs(goos string, timeout time.Duration, target string) []string {
	ms := timeout.Milliseconds()
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(ms, 10), target}
	case "darwin", "freebsd":
		return []string{"-c", "1", "-W", strconv.FormatInt(ms, 10), target}
	default:
		secs := (ms + 999) / 1000
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", "1", "-W", strconv.FormatInt(secs, 10), target}
	}
}

func parseRTT(output string) (int64, bool) {
	m := rttRegex.FindStringSubmatch(output)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int64(v + 0.5), true
}

// pingFailure picks the most telling line of a failed ping run.
func pingFailure(output string) string {
	var last string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "unknown host") ||
			strings.Contains(lower, "unreachable") ||
			strings.Contains(lower, "name or service not known") ||
			strings.Contains(lower, "could not find host") {
			return line
		}
		if strings.Contains(lower, "packet loss") {
			last = line
		}
	}
	if last != "" {
		return last
	}
	return "no reply"
}

// TCPChecker opens and immediately closes a TCP connection.
type TCPChecker struct {
	dialer net.Dialer
}

func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

func (t *TCPChecker) Type() database.MethodType {
	return database.MethodTCP
}

func (t *TCPChecker) Check(ctx context.Context, host *database.Host, method database.CheckMethod) (*CheckResult, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	result := newResult(host, method)
	target := host.Target()
	if target == "" {
		return nil, database.ErrMissingTarget
	}

	dialCtx, cancel := context.WithTimeout(ctx, method.Timeout())
	defer cancel()

	start := time.Now()
	conn, err := t.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(target, strconv.Itoa(method.Port)))
	result.ElapsedMs = time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, ctx.Err()
	}

	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("connection to port %d timed out", method.Port)
		} else {
			result.Error = err.Error()
		}
		return result, nil
	}

	conn.Close()
	result.Success = true
	return result, nil
}
