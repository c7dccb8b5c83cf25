package utils

import "net"

// IsPrivateHost checks whether a hostname resolves to a private/loopback address.
// Used to warn when the monitor endpoint is bound to a public interface.
func IsPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	// An empty host means "all interfaces", which is not private.
	if host == "" {
		return false
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// If DNS fails, check if it's a raw IP.
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}

	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return true
		}
	}
	return false
}
