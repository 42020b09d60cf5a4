package main

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Nmap XML structures
type NmapRun struct {
	XMLName  xml.Name `xml:"nmaprun"`
	Scanner  string   `xml:"scanner,attr"`
	Args     string   `xml:"args,attr"`
	StartStr string   `xml:"startstr,attr"`
	Version  string   `xml:"version,attr"`
	Hosts    []Host   `xml:"host"`
}

type Host struct {
	Status    HostStatus `xml:"status"`
	Addresses []Address  `xml:"address"`
	Hostnames []Hostname `xml:"hostnames>hostname"`
	Ports     []Port     `xml:"ports>port"`
	OS        []OSMatch  `xml:"os>osmatch"`
}

type HostStatus struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type Hostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type Port struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   int         `xml:"portid,attr"`
	State    PortState   `xml:"state"`
	Service  PortService `xml:"service"`
}

type PortState struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type PortService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
}

type OSMatch struct {
	Name     string `xml:"name,attr"`
	Accuracy int    `xml:"accuracy,attr"`
}

// Output mirrors the include file layout read by the server. Durations are
// written as strings because that is what the loader parses.
type Output struct {
	Hosts []HostOutput `yaml:"hosts"`
}

type HostOutput struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Hostname  string         `yaml:"hostname,omitempty"`
	IPAddress string         `yaml:"ip_address,omitempty"`
	Group     string         `yaml:"group,omitempty"`
	Type      string         `yaml:"type,omitempty"`
	Methods   []MethodOutput `yaml:"methods"`
}

type MethodOutput struct {
	Type     string `yaml:"type"`
	Port     int    `yaml:"port,omitempty"`
	Timeout  string `yaml:"timeout"`
	Interval string `yaml:"interval"`
}

type options struct {
	group     string
	dhcpLow   int
	dhcpHigh  int
	timeout   time.Duration
	interval  time.Duration
	tcpPorts  bool
	hostTypes bool
}

// hostTypeByPort guesses the informational host type from the open ports.
var hostTypeByPort = []struct {
	port     int
	hostType string
}{
	{3306, "db"},
	{5432, "db"},
	{1433, "db"},
	{445, "file"},
	{2049, "file"},
	{443, "web"},
	{80, "web"},
}

func parseNmap(data []byte) (*NmapRun, error) {
	var run NmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse nmap XML: %w", err)
	}
	return &run, nil
}

func generateOutput(run *NmapRun, opts options) *Output {
	out := &Output{}
	seen := make(map[string]int)

	for _, h := range run.Hosts {
		if h.Status.State != "up" {
			continue
		}
		host := processHost(h, opts)
		if host == nil {
			continue
		}

		// Two hosts sharing a short hostname would collide on the id.
		base := host.ID
		if n := seen[base]; n > 0 {
			host.ID = fmt.Sprintf("%s-%d", base, n+1)
		}
		seen[base]++

		out.Hosts = append(out.Hosts, *host)
	}
	return out
}

func processHost(h Host, opts options) *HostOutput {
	var ipv4, hostname string
	for _, addr := range h.Addresses {
		if addr.AddrType == "ipv4" {
			ipv4 = addr.Addr
			break
		}
	}
	if ipv4 == "" {
		return nil
	}

	for _, hn := range h.Hostnames {
		if hn.Type == "PTR" || hn.Type == "user" {
			hostname = hn.Name
			break
		}
	}

	id := generateHostID(ipv4, hostname)
	name := id
	if hostname != "" {
		name = strings.Split(hostname, ".")[0]
	}

	host := &HostOutput{
		ID:       id,
		Name:     name,
		Hostname: hostname,
		Group:    opts.group,
	}

	// DHCP leases move; those hosts are probed by name only.
	if !isInDHCPRange(ipv4, opts.dhcpLow, opts.dhcpHigh) || hostname == "" {
		host.IPAddress = ipv4
	}

	host.Methods = append(host.Methods, MethodOutput{
		Type:     "ping",
		Timeout:  opts.timeout.String(),
		Interval: opts.interval.String(),
	})

	open := openPorts(h)
	if opts.tcpPorts {
		for _, port := range open {
			host.Methods = append(host.Methods, MethodOutput{
				Type:     "tcp",
				Port:     port,
				Timeout:  opts.timeout.String(),
				Interval: opts.interval.String(),
			})
		}
	}

	if opts.hostTypes {
		host.Type = guessHostType(open)
	}

	return host
}

func openPorts(h Host) []int {
	var ports []int
	for _, p := range h.Ports {
		if p.State.State == "open" && p.Protocol == "tcp" {
			ports = append(ports, p.PortID)
		}
	}
	sort.Ints(ports)
	return ports
}

func guessHostType(open []int) string {
	set := make(map[int]bool, len(open))
	for _, p := range open {
		set[p] = true
	}
	for _, candidate := range hostTypeByPort {
		if set[candidate.port] {
			return candidate.hostType
		}
	}
	return "pc"
}

func generateHostID(ipv4, hostname string) string {
	if hostname != "" {
		return strings.ToLower(strings.Split(hostname, ".")[0])
	}

	parts := strings.Split(ipv4, ".")
	if len(parts) == 4 {
		return fmt.Sprintf("host-%s", parts[3])
	}
	return fmt.Sprintf("host-%s", strings.ReplaceAll(ipv4, ".", "-"))
}

func parseDHCPRange(dhcpRange string) (int, int) {
	parts := strings.Split(dhcpRange, "-")
	if len(parts) != 2 {
		return 100, 200
	}

	low, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	high, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 100, 200
	}
	return low, high
}

func isInDHCPRange(ipv4 string, low, high int) bool {
	parts := strings.Split(ipv4, ".")
	if len(parts) != 4 {
		return false
	}

	lastOctet, err := strconv.Atoi(parts[3])
	if err != nil {
		return false
	}
	return lastOctet >= low && lastOctet <= high
}
