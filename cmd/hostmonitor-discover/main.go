// cmd/hostmonitor-discover/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		network   = flag.String("network", "", "CIDR network to scan (e.g., 192.168.1.0/24)")
		xmlFile   = flag.String("xml", "", "Use existing nmap XML file instead of scanning")
		output    = flag.String("output", "discovered.yaml", "Output include file")
		group     = flag.String("group", "discovered", "Group name for discovered hosts")
		dhcpRange = flag.String("dhcp", "100-200", "DHCP range of the last octet; those hosts are probed by hostname")
		nmapPath  = flag.String("nmap", "/usr/bin/nmap", "Path to nmap binary")
		ports     = flag.String("ports", "22,80,443,445,3306,5432", "Ports to scan")
		timeout   = flag.Duration("timeout", 5*time.Second, "Probe timeout for generated methods")
		interval  = flag.Duration("interval", time.Minute, "Probe interval for generated methods")
		noTCP     = flag.Bool("ping-only", false, "Generate ping methods only")
		verbose   = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var (
		data []byte
		err  error
	)
	if *xmlFile != "" {
		logrus.WithField("file", *xmlFile).Info("Reading nmap XML")
		data, err = os.ReadFile(*xmlFile)
		if err != nil {
			logrus.Fatalf("Failed to read XML file: %v", err)
		}
	} else {
		if *network == "" {
			*network = detectLocalNetwork()
			if *network == "" {
				logrus.Fatal("No network specified and couldn't detect local network. Use -network flag.")
			}
			logrus.WithField("network", *network).Info("Auto-detected network")
		}
		data, err = runNmapScan(*nmapPath, *network, *ports)
		if err != nil {
			logrus.Fatalf("Failed to run nmap: %v", err)
		}
	}

	run, err := parseNmap(data)
	if err != nil {
		logrus.Fatal(err)
	}

	low, high := parseDHCPRange(*dhcpRange)
	out := generateOutput(run, options{
		group:     *group,
		dhcpLow:   low,
		dhcpHigh:  high,
		timeout:   *timeout,
		interval:  *interval,
		tcpPorts:  !*noTCP,
		hostTypes: true,
	})

	if err := writeOutput(out, *output); err != nil {
		logrus.Fatalf("Failed to write output: %v", err)
	}

	fmt.Printf("Discovered %d hosts, written to %s\n", len(out.Hosts), *output)
}

func detectLocalNetwork() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && ipnet.IP.IsGlobalUnicast() {
				return ipnet.String()
			}
		}
	}
	return ""
}

func runNmapScan(nmapPath, network, ports string) ([]byte, error) {
	args := []string{"--system-dns", "-oX", "-", "-p", ports, network}
	logrus.Debugf("Running: %s %s", nmapPath, strings.Join(args, " "))

	out, err := exec.Command(nmapPath, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nmap exited with status %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("nmap execution failed: %w", err)
	}
	return out, nil
}

func writeOutput(out *Output, filename string) error {
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# hostmonitor include file\n# Generated by hostmonitor-discover on %s\n# Contains %d hosts\n\n",
		time.Now().Format("2006-01-02 15:04:05"), len(out.Hosts))

	if err := os.WriteFile(filename, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
