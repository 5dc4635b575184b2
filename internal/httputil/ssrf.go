package httputil

import (
	"fmt"
	"net"
)

// blockedRanges enumerates the address classes a registry redirect is
// never allowed to land on. Link-local covers the cloud metadata range
// (169.254.0.0/16, fe80::/10).
var blockedRanges = []struct {
	name    string
	matches func(net.IP) bool
}{
	{"private", net.IP.IsPrivate},
	{"loopback", net.IP.IsLoopback},
	{"link-local", net.IP.IsLinkLocalUnicast},
	{"link-local multicast", net.IP.IsLinkLocalMulticast},
	{"multicast", net.IP.IsMulticast},
	{"unspecified", net.IP.IsUnspecified},
}

// validateIP rejects ip when it falls in any blocked range. host is the
// name the IP was resolved from, carried into the error for diagnostics.
func validateIP(ip net.IP, host string) error {
	for _, r := range blockedRanges {
		if r.matches(ip) {
			return fmt.Errorf("refusing redirect to %s IP: %s (%s)", r.name, host, ip)
		}
	}
	return nil
}
