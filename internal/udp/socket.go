package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/postalsys/confirmd/internal/logging"
)

// SocketState represents the lifecycle state of a Socket.
type SocketState int

const (
	// StateUnbound means the socket has no OS binding yet.
	StateUnbound SocketState = iota
	// StateBound means the socket holds its port and is receiving.
	StateBound
	// StateClosed means the binding has been released. Terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s SocketState) String() string {
	switch s {
	case StateUnbound:
		return "UNBOUND"
	case StateBound:
		return "BOUND"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// completionHandler receives the completions of a Socket's asynchronous
// operations. The Listener is the only production implementation.
type completionHandler interface {
	onReceive(s *Socket, n int, err error)
	onConfirm(s *Socket, to netip.AddrPort, err error)
}

// Socket is one bound UDP endpoint. It owns its receive buffer, keeps the
// address of the most recent sender and reports completions to its handler.
type Socket struct {
	port    uint16
	conn    *net.UDPConn
	driver  *Driver
	handler completionHandler
	logger  *slog.Logger

	// buf is only touched by the receive loop and by Data, which the
	// handler calls from inside that same loop.
	buf []byte

	mu     sync.RWMutex
	state  SocketState
	remote netip.AddrPort

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newSocket binds port synchronously. The socket does not receive until
// listen is called.
func newSocket(cfg Config, port uint16, driver *Driver, handler completionHandler, logger *slog.Logger) (*Socket, error) {
	if port == 0 {
		return nil, &TransportError{Port: port, Op: "bind", Err: errInvalidPort}
	}

	local, err := cfg.bindAddrPort(port)
	if err != nil {
		return nil, &TransportError{Port: port, Op: "resolve", Err: err}
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, classifyBindError(port, err)
	}

	ctx, cancel := context.WithCancel(driver.Context())

	return &Socket{
		port:    port,
		conn:    conn,
		driver:  driver,
		handler: handler,
		logger:  logger.With(slog.Int(logging.KeyPort, int(port))),
		buf:     make([]byte, cfg.bufferSize()),
		state:   StateBound,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Port returns the local port the socket is bound to.
func (s *Socket) Port() uint16 {
	return s.port
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the sender of the most recent successful receive.
// The result is invalid until the first datagram has arrived.
func (s *Socket) RemoteAddr() netip.AddrPort {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remote
}

// State returns the current lifecycle state.
func (s *Socket) State() SocketState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// IsClosed returns true once Close has been called.
func (s *Socket) IsClosed() bool {
	return s.State() == StateClosed
}

// Data returns an owned copy of the first n bytes of the receive buffer.
func (s *Socket) Data(n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out
}

// listen arms the receive loop.
func (s *Socket) listen() error {
	if !s.spawn("udp.Socket.receiveLoop", s.receiveLoop) {
		return &TransportError{Port: s.port, Op: "listen", Err: ErrSocketClosed}
	}
	return nil
}

// SendConfirmation sends message to the current remote endpoint without
// waiting for the write. The outcome is reported through the handler's
// confirm completion. An error is returned only when the send could not be
// started at all.
func (s *Socket) SendConfirmation(message string) error {
	to := s.RemoteAddr()
	if !to.IsValid() {
		return ErrNoRemote
	}

	payload := []byte(message)
	started := s.spawn("udp.Socket.confirm", func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		_, err := s.conn.WriteToUDPAddrPort(payload, to)
		if s.IsClosed() {
			return
		}
		if err != nil {
			err = fmt.Errorf("confirm to %s: %w", to, err)
		}
		s.handler.onConfirm(s, to, err)
	})
	if !started {
		return ErrSocketClosed
	}
	return nil
}

// Close releases the OS binding and waits until every in-flight operation
// of this socket has returned. No completion is delivered after Close
// returns. It must not be called from inside this socket's own completion.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()

	s.logger.Debug("socket closed")
	return err
}

// spawn starts fn on the driver and tracks it so Close can wait for it.
func (s *Socket) spawn(name string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.state != StateBound {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ok := s.driver.Go(name, func(driverCtx context.Context) {
		defer s.wg.Done()

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		stop := context.AfterFunc(driverCtx, cancel)
		defer stop()

		fn(ctx)
	})
	if !ok {
		s.wg.Done()
	}
	return ok
}

// Consecutive receive errors back off from minReceiveBackoff, doubling up
// to maxReceiveBackoff. A successful receive resets the count.
const (
	minReceiveBackoff = 5 * time.Millisecond
	maxReceiveBackoff = time.Second
)

// receiveBackoff returns how long to wait before re-arming after the
// given number of consecutive failed receives. The first failure re-arms
// at once.
func receiveBackoff(consecutive int) time.Duration {
	if consecutive <= 1 {
		return 0
	}
	d := minReceiveBackoff
	for i := 2; i < consecutive; i++ {
		d *= 2
		if d >= maxReceiveBackoff {
			return maxReceiveBackoff
		}
	}
	return d
}

// receiveLoop waits for datagrams and reports each completion. The next
// receive is armed only after the handler has returned, so there is never
// more than one outstanding receive and buf is stable during the handler.
func (s *Socket) receiveLoop(ctx context.Context) {
	failures := 0

	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(s.buf)

		if ctx.Err() != nil || s.IsClosed() {
			return
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}

		if err == nil {
			failures = 0
			s.mu.Lock()
			s.remote = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
			s.mu.Unlock()
		} else {
			failures++
			err = fmt.Errorf("receive on port %d: %w", s.port, err)
		}

		s.handler.onReceive(s, n, err)

		if wait := receiveBackoff(failures); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}
