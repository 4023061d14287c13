package udp

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BindAddress != "" {
		t.Errorf("BindAddress = %q, want empty", cfg.BindAddress)
	}
	if cfg.BufferSize != 64*1024 {
		t.Errorf("BufferSize = %d, want 65536", cfg.BufferSize)
	}
	if cfg.ErrorLogInterval != 10*time.Second {
		t.Errorf("ErrorLogInterval = %v, want 10s", cfg.ErrorLogInterval)
	}
}

func TestConfig_BindAddrPort(t *testing.T) {
	tests := []struct {
		name     string
		bind     string
		wantAddr string
		wantErr  bool
	}{
		{"wildcard", "", "invalid IP", false},
		{"ipv4", "127.0.0.1", "127.0.0.1", false},
		{"ipv6", "::1", "::1", false},
		{"hostname", "localhost", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{BindAddress: tt.bind}
			got, err := cfg.bindAddrPort(9000)
			if (err != nil) != tt.wantErr {
				t.Fatalf("bindAddrPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Port() != 9000 {
				t.Errorf("Port = %d, want 9000", got.Port())
			}
			if got.Addr().String() != tt.wantAddr {
				t.Errorf("Addr = %s, want %s", got.Addr(), tt.wantAddr)
			}
		})
	}
}

func TestConfig_BufferSize(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 64 * 1024},
		{-1, 64 * 1024},
		{1500, 1500},
	}

	for _, tt := range tests {
		cfg := Config{BufferSize: tt.size}
		if got := cfg.bufferSize(); got != tt.want {
			t.Errorf("bufferSize() with %d = %d, want %d", tt.size, got, tt.want)
		}
	}
}
