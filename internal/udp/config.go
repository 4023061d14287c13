package udp

import (
	"net/netip"
	"time"
)

// Config holds configuration for a Listener and the Sockets it creates.
type Config struct {
	// BindAddress is the local IP every port is bound on.
	// Empty means all interfaces.
	BindAddress string

	// BufferSize is the capacity of each Socket's receive buffer.
	// Datagrams longer than this are truncated by the OS.
	BufferSize int

	// ErrorLogInterval spaces out diagnostic log lines for failed
	// receives and confirmations. 0 disables the diagnostics entirely.
	ErrorLogInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BindAddress:      "",
		BufferSize:       64 * 1024,
		ErrorLogInterval: 10 * time.Second,
	}
}

// bindAddrPort resolves the local endpoint for port.
func (c *Config) bindAddrPort(port uint16) (netip.AddrPort, error) {
	if c.BindAddress == "" {
		// A zero Addr becomes a nil IP, which net treats as the wildcard.
		return netip.AddrPortFrom(netip.Addr{}, port), nil
	}
	addr, err := netip.ParseAddr(c.BindAddress)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, port), nil
}

func (c *Config) bufferSize() int {
	if c.BufferSize <= 0 {
		return DefaultConfig().BufferSize
	}
	return c.BufferSize
}
