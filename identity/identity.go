// Package identity derives the stable scanner identifier for this node.
package identity

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// MaxScannerIDLen bounds the scanner identifier so it fits the topic and
// payload size contracts downstream.
const MaxScannerIDLen = 31

var (
	once sync.Once
	id   string
)

// ScannerID returns the node's scanner identifier: "scanner-" followed by
// the uppercase hex MAC of the first non-loopback hardware interface. The
// value is derived once and cached. It is always a non-empty ASCII string
// no longer than MaxScannerIDLen.
func ScannerID() string {
	once.Do(func() {
		id = derive()
	})
	return id
}

func derive() string {
	if mac, ok := primaryMAC(); ok {
		return clamp(fmt.Sprintf("scanner-%02X%02X%02X%02X%02X%02X",
			mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]))
	}

	// No usable interface; fall back to the hostname.
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "scanner-unknown"
	}
	host = sanitizeHost(host)
	if host == "" {
		return "scanner-unknown"
	}
	return clamp("scanner-" + host)
}

// primaryMAC returns the MAC of the first up, non-loopback interface with a
// 48-bit hardware address.
func primaryMAC() (net.HardwareAddr, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		return iface.HardwareAddr, true
	}
	return nil, false
}

// sanitizeHost reduces a hostname to lowercase ASCII letters, digits and
// hyphens.
func sanitizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func clamp(s string) string {
	if len(s) > MaxScannerIDLen {
		return s[:MaxScannerIDLen]
	}
	return s
}
