package engine

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// AddrResolver determines which local IP address can reach a given
// target and caches the answer per (host, port) pair so repeated ring
// attempts do not re-probe the routing table. One resolver is shared by
// all engines; construct it once at startup and inject it.
type AddrResolver struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewAddrResolver creates an empty resolver.
func NewAddrResolver() *AddrResolver {
	return &AddrResolver{cache: make(map[string]string)}
}

// LocalIP returns the local IP address the OS would use to reach
// host:port over UDP.
func (r *AddrResolver) LocalIP(host string, port int) (string, error) {
	key := net.JoinHostPort(host, strconv.Itoa(port))

	r.mu.Lock()
	defer r.mu.Unlock()
	if ip, ok := r.cache[key]; ok {
		return ip, nil
	}

	// A connected UDP socket never sends anything; it only asks the
	// kernel to pick a source address.
	conn, err := net.Dial("udp", key)
	if err != nil {
		return "", fmt.Errorf("probe local address for %s: %w", key, err)
	}
	defer conn.Close()

	ip := conn.LocalAddr().(*net.UDPAddr).IP.String()
	r.cache[key] = ip
	return ip, nil
}
