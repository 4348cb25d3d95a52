// Package netutil picks the network interface a co-located QPU or
// classical channel should bind to: enumerate interfaces, skip loopback
// and down interfaces, read the advertised link speed (Ethernet via
// /sys/class/net, InfiniBand via /sys/class/infiniband) and keep the
// fastest.
package netutil

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BestLocalIPv4 returns the IPv4 address of the highest-bandwidth,
// administratively and operationally up, non-loopback interface on this
// host. Ties are broken by interface enumeration order. Interfaces whose
// link speed cannot be read as a positive value are skipped. It returns an
// error only when no qualifying interface has both a usable IPv4 address
// and a positive link speed.
func BestLocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("netutil: enumerate interfaces: %w", err)
	}

	var bestIP string
	var bestMbps int64 = -1

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if !operUp(iface.Name) {
			continue
		}
		ip, ok := firstIPv4(iface)
		if !ok {
			continue
		}
		mbps := linkSpeedMbps(iface.Name)
		if mbps <= 0 {
			continue
		}
		if mbps > bestMbps {
			bestMbps = mbps
			bestIP = ip
		}
	}

	if bestMbps <= 0 || bestIP == "" {
		return "", fmt.Errorf("netutil: no usable IPv4 interface found")
	}
	return bestIP, nil
}

func firstIPv4(iface net.Interface) (string, bool) {
	addrs, err := iface.Addrs()
	if err != nil {
		return "", false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		return ip4.String(), true
	}
	return "", false
}

func operUp(ifname string) bool {
	if state, ok := readLine(filepath.Join("/sys/class/net", ifname, "operstate")); ok {
		return strings.TrimSpace(state) == "up"
	}
	return readInt(filepath.Join("/sys/class/net", ifname, "carrier")) == 1
}

// linkSpeedMbps returns the advertised link speed in Mbps, trying the
// Ethernet sysfs speed file first and falling back to the InfiniBand rate
// file when the interface has an infiniband device directory.
func linkSpeedMbps(ifname string) int64 {
	if s := speedEthMbps(ifname); s > 0 {
		return s
	}
	if s := speedIBMbps(ifname); s > 0 {
		return s
	}
	return -1
}

func speedEthMbps(ifname string) int64 {
	v := readInt(filepath.Join("/sys/class/net", ifname, "speed"))
	if v > 0 {
		return int64(v)
	}
	return -1
}

func speedIBMbps(ifname string) int64 {
	hca, ok := infinibandHCA(ifname)
	if !ok {
		return -1
	}
	port := readInt(filepath.Join("/sys/class/net", ifname, "dev_port"))
	if port <= 0 {
		port = 1
	}
	ratePath := filepath.Join("/sys/class/infiniband", hca, "ports", strconv.Itoa(port), "rate")
	line, ok := readLine(ratePath)
	if !ok {
		return -1
	}
	return parseIBRate(line)
}

func infinibandHCA(ifname string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join("/sys/class/net", ifname, "device/infiniband"))
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return entries[0].Name(), true
}

// parseIBRate parses lines like "100 Gb/sec (4X EDR)" into Mbps.
func parseIBRate(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return -1
	}
	val, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return -1
	}
	unit := strings.ToLower(fields[1])
	switch {
	case strings.Contains(unit, "gb"):
		return int64(val*1000.0 + 0.5)
	case strings.Contains(unit, "mb"):
		return int64(val + 0.5)
	default:
		return -1
	}
}

func readLine(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text(), true
	}
	return "", false
}

func readInt(path string) int {
	line, ok := readLine(path)
	if !ok {
		return -1
	}
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return -1
	}
	return v
}
