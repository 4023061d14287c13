// Package probe sends test datagrams to a confirmd receiver and checks the
// confirmation that comes back.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/confirmd/internal/udp"
)

// maxConfirmationSize bounds the read buffer for the reply.
const maxConfirmationSize = 512

// Options contains configuration for a probe.
type Options struct {
	// Address is the host:port to probe
	Address string

	// Payload is sent as a single datagram
	Payload []byte

	// Timeout for the entire probe operation
	Timeout time.Duration
}

// Result contains the outcome of a probe.
type Result struct {
	// Success indicates whether the expected confirmation arrived
	Success bool

	// Address that was probed
	Address string

	// Sent is the number of payload bytes written
	Sent int

	// Confirmation is the reply text, if any arrived
	Confirmation string

	// Expected is the confirmation a receiver should send for Sent bytes
	Expected string

	// RTT is the time from send to confirmation
	RTT time.Duration

	// Error is the error that occurred (if any)
	Error error

	// ErrorDetail is a human-readable description of the error
	ErrorDetail string
}

// Probe sends one datagram to opts.Address and waits for its confirmation.
func Probe(ctx context.Context, opts Options) *Result {
	result := &Result{
		Address:  opts.Address,
		Expected: udp.ConfirmationMessage(len(opts.Payload)),
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", opts.Address)
	if err != nil {
		return result.fail(fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	// Reads and writes give up when ctx does.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	n, err := conn.Write(opts.Payload)
	if err != nil {
		return result.fail(fmt.Errorf("send: %w", err))
	}
	result.Sent = n

	buf := make([]byte, maxConfirmationSize)
	n, err = conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("waiting for confirmation: %w", ctx.Err())
		} else {
			err = fmt.Errorf("receive: %w", err)
		}
		return result.fail(err)
	}
	result.RTT = time.Since(start)
	result.Confirmation = string(bytes.TrimSpace(buf[:n]))

	if result.Confirmation != result.Expected {
		return result.fail(fmt.Errorf("unexpected confirmation %q", result.Confirmation))
	}

	result.Success = true
	return result
}

func (r *Result) fail(err error) *Result {
	r.Error = err
	r.ErrorDetail = classifyError(err)
	return r
}

// ParseSize parses a human-readable size such as 512, 1KB or 2KiB.
func ParseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format '%s': %w", s, err)
	}
	if n > 65507 {
		return 0, fmt.Errorf("size %s exceeds the largest UDP payload", humanize.IBytes(n))
	}

	return int(n), nil
}

// Payload returns size bytes of printable filler.
func Payload(size int) []byte {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	p := make([]byte, size)
	for i := range p {
		p[i] = alphabet[i%len(alphabet)]
	}
	return p
}

// classifyError returns a human-readable description for common errors.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "Could not resolve hostname - DNS lookup failed"
		}
		return "DNS error: " + dnsErr.Error()
	}

	if strings.Contains(errStr, "connection refused") {
		return "Port unreachable - no receiver bound on that port"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Network unreachable"
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || strings.Contains(errStr, "timeout") {
		return "No confirmation received - receiver down or datagram lost"
	}

	if strings.Contains(errStr, "unexpected confirmation") {
		return "Received a reply that is not a confirmation - not a confirmd receiver?"
	}

	return errStr
}
