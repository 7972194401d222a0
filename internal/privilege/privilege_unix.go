//go:build !windows

// Package privilege answers whether the process can manipulate host
// firewall rules and open raw ICMP sockets.
package privilege

import "os"

// Elevated reports whether the process runs with effective uid 0.
func Elevated() bool {
	return os.Geteuid() == 0
}
