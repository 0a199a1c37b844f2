// Package netutil holds small host:port helpers shared by the three
// service binaries — mainly resolving the address a service advertises to
// the Registry when no explicit advertised_host is configured (spec.md §6:
// "server.advertised_host").
//
// Grounded on orbas1-Synnergy's core/network.go Dialer, the pack's only
// outbound-connection abstraction; there is no existing IP-autodetect
// helper in the pack to copy, so DetectOutboundIP follows the standard Go
// idiom of opening a UDP "connection" (no packets are sent) to learn which
// local interface the OS would route through.
package netutil

import (
	"fmt"
	"net"
)

// DetectOutboundIP returns the local IP address the OS would use to reach
// the public internet, without sending any packets (UDP "connect" only
// resolves a route).
func DetectOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("netutil: detect outbound ip: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("netutil: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// AdvertisedAddress returns configured if non-empty; otherwise it
// autodetects the outbound IP and combines it with port, falling back to
// "localhost:<port>" if detection fails (e.g. no network route, sandboxed
// CI).
func AdvertisedAddress(port int, configured string) string {
	if configured != "" {
		return fmt.Sprintf("%s:%d", configured, port)
	}
	ip, err := DetectOutboundIP()
	if err != nil {
		return fmt.Sprintf("localhost:%d", port)
	}
	return fmt.Sprintf("%s:%d", ip, port)
}
