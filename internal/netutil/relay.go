package netutil

import (
	"net"
	"strings"
)

// Carrier grade NAT range, also used by WARP and Tailscale.
var cgnatBlock = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or CGNAT, where direct media paths rarely work and TURN should be used.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictive(iface.Name, addrIPs(addrs)) {
			return true
		}
	}
	return false
}

func restrictive(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, prefix := range tunnelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

func addrIPs(addrs []net.Addr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips
}
