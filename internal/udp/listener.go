package udp

import (
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/confirmd/internal/logging"
)

// StatsRecorder receives counters from a Listener. *metrics.Metrics
// implements it.
type StatsRecorder interface {
	RecordSocketOpen(port uint16)
	RecordSocketClose(port uint16)
	RecordBindFailure(port uint16, reason string)
	RecordReceive(port uint16, bytes int)
	RecordReceiveError(port uint16)
	RecordConfirm(port uint16)
	RecordConfirmError(port uint16)
}

type nopRecorder struct{}

func (nopRecorder) RecordSocketOpen(uint16)          {}
func (nopRecorder) RecordSocketClose(uint16)         {}
func (nopRecorder) RecordBindFailure(uint16, string) {}
func (nopRecorder) RecordReceive(uint16, int)        {}
func (nopRecorder) RecordReceiveError(uint16)        {}
func (nopRecorder) RecordConfirm(uint16)             {}
func (nopRecorder) RecordConfirmError(uint16)        {}

// Stats is a snapshot of a Listener's activity.
type Stats struct {
	Ports             []uint16
	DatagramsReceived uint64
	BytesReceived     uint64
	ConfirmationsSent uint64
	ReceiveErrors     uint64
	ConfirmErrors     uint64
}

// Listener owns a set of Sockets keyed by port and the Driver that runs
// them. It confirms every datagram received without error and forwards
// records and payloads to at most one logger and one data reader.
//
// Subscribed callbacks run on the Driver's goroutines and must not call
// ListenOn, StopListeningOn or Close; those wait for the callbacks.
type Listener struct {
	cfg      Config
	logger   *slog.Logger
	recorder StatsRecorder
	driver   *Driver

	// Failed receives and confirmations are rate limited separately.
	recvErrLog    *logging.Throttle
	confirmErrLog *logging.Throttle

	// opMu serializes ListenOn, StopListeningOn and Close. Completion
	// handlers never take it.
	opMu   sync.Mutex
	closed bool

	mu      sync.RWMutex
	sockets map[uint16]*Socket

	subMu      sync.RWMutex
	logFn      LogFunc
	dataReader DataReaderFunc

	datagrams     atomic.Uint64
	bytes         atomic.Uint64
	confirmations atomic.Uint64
	receiveErrs   atomic.Uint64
	confirmErrs   atomic.Uint64
}

// NewListener creates a Listener with its own Driver. recorder may be nil.
func NewListener(cfg Config, logger *slog.Logger, recorder StatsRecorder) *Listener {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger = logger.With(slog.String(logging.KeyComponent, "udp"))

	l := &Listener{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		driver:   NewDriver(logger),
		sockets:  make(map[uint16]*Socket),
	}
	if cfg.ErrorLogInterval > 0 {
		l.recvErrLog = logging.NewThrottle(logger, cfg.ErrorLogInterval, 1)
		l.confirmErrLog = logging.NewThrottle(logger, cfg.ErrorLogInterval, 1)
	}
	return l
}

// ListenOn binds a new Socket on port and starts receiving.
// It returns false with a nil error when the port is already in use, either
// by another process or by this Listener. Any other failure is returned as
// a *TransportError.
func (l *Listener) ListenOn(port uint16) (bool, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.closed {
		return false, ErrListenerClosed
	}

	if l.IsListening(port) {
		l.logger.Debug("already listening", slog.Int(logging.KeyPort, int(port)))
		return false, nil
	}

	s, err := newSocket(l.cfg, port, l.driver, l, l.logger)
	if err != nil {
		if errors.Is(err, ErrAddressInUse) {
			l.recorder.RecordBindFailure(port, "in_use")
			l.logger.Warn("port already in use", slog.Int(logging.KeyPort, int(port)))
			return false, nil
		}
		l.recorder.RecordBindFailure(port, "transport")
		return false, err
	}

	l.mu.Lock()
	l.sockets[port] = s
	l.mu.Unlock()

	if err := s.listen(); err != nil {
		l.mu.Lock()
		delete(l.sockets, port)
		l.mu.Unlock()
		s.Close()
		return false, err
	}

	l.recorder.RecordSocketOpen(port)
	l.logger.Info("listening",
		slog.Int(logging.KeyPort, int(port)),
		slog.String(logging.KeyLocalAddr, s.LocalAddr().String()))

	return true, nil
}

// StopListeningOn closes and removes the Socket bound to port. It is a
// no-op if the Listener is not listening on port. When the last Socket is
// removed the Driver is stopped, drained and reset before it serves another
// ListenOn.
func (l *Listener) StopListeningOn(port uint16) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	s, ok := l.sockets[port]
	if !ok {
		l.mu.Unlock()
		return
	}
	delete(l.sockets, port)
	last := len(l.sockets) == 0
	l.mu.Unlock()

	if last {
		l.driver.Stop()
		l.closeSocket(s)
		l.driver.Wait()
		l.driver.Reset()
	} else {
		l.closeSocket(s)
	}

	l.logger.Info("stopped listening", slog.Int(logging.KeyPort, int(port)))
}

// IsListening reports whether a Socket is bound to port.
func (l *Listener) IsListening(port uint16) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.sockets[port]
	return ok
}

// Ports returns the ports currently listened on, in ascending order.
func (l *Listener) Ports() []uint16 {
	l.mu.RLock()
	ports := make([]uint16, 0, len(l.sockets))
	for port := range l.sockets {
		ports = append(ports, port)
	}
	l.mu.RUnlock()

	slices.Sort(ports)
	return ports
}

// Socket returns the Socket bound to port, or nil.
func (l *Listener) Socket(port uint16) *Socket {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.sockets[port]
}

// SubscribeLogger installs fn as the only logger, replacing any previous one.
func (l *Listener) SubscribeLogger(fn LogFunc) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.logFn = fn
}

// UnsubscribeLogger removes the logger.
func (l *Listener) UnsubscribeLogger() {
	l.SubscribeLogger(nil)
}

// SubscribeDataReader installs fn as the only data reader, replacing any
// previous one.
func (l *Listener) SubscribeDataReader(fn DataReaderFunc) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.dataReader = fn
}

// UnsubscribeDataReader removes the data reader.
func (l *Listener) UnsubscribeDataReader() {
	l.SubscribeDataReader(nil)
}

// Stats returns a snapshot of the Listener's counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Ports:             l.Ports(),
		DatagramsReceived: l.datagrams.Load(),
		BytesReceived:     l.bytes.Load(),
		ConfirmationsSent: l.confirmations.Load(),
		ReceiveErrors:     l.receiveErrs.Load(),
		ConfirmErrors:     l.confirmErrs.Load(),
	}
}

// Close closes every remaining Socket and then stops the Driver.
// It is safe to call with any number of Sockets and more than once.
func (l *Listener) Close() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.driver.Stop()

	l.mu.Lock()
	sockets := l.sockets
	l.sockets = make(map[uint16]*Socket)
	l.mu.Unlock()

	var errs []error
	for _, s := range sockets {
		if err := l.closeSocket(s); err != nil {
			errs = append(errs, err)
		}
	}

	l.driver.Wait()
	return errors.Join(errs...)
}

func (l *Listener) closeSocket(s *Socket) error {
	err := s.Close()
	l.recorder.RecordSocketClose(s.Port())
	if err != nil {
		l.logger.Debug("socket close error",
			slog.Int(logging.KeyPort, int(s.Port())),
			slog.String(logging.KeyError, err.Error()))
	}
	return err
}

func (l *Listener) subscribers() (LogFunc, DataReaderFunc) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()

	return l.logFn, l.dataReader
}

// onReceive logs the datagram, confirms it to the sender and forwards a
// copy of the payload. Failed receives are only counted.
func (l *Listener) onReceive(s *Socket, n int, err error) {
	port := s.Port()

	if err != nil {
		l.receiveErrs.Add(1)
		l.recorder.RecordReceiveError(port)
		l.recvErrLog.Log(slog.LevelWarn, "receive failed",
			slog.Int(logging.KeyPort, int(port)),
			slog.String(logging.KeyError, err.Error()))
		return
	}

	l.datagrams.Add(1)
	l.bytes.Add(uint64(n))
	l.recorder.RecordReceive(port, n)

	logFn, reader := l.subscribers()
	if logFn != nil {
		logFn(LogRecord{
			Kind:   EventReceive,
			Time:   time.Now(),
			Port:   port,
			Remote: s.RemoteAddr(),
			Bytes:  n,
		})
	}

	if err := s.SendConfirmation(ConfirmationMessage(n)); err != nil {
		l.logger.Debug("confirmation not sent",
			slog.Int(logging.KeyPort, int(port)),
			slog.String(logging.KeyError, err.Error()))
	}

	if reader != nil {
		reader(s.Data(n))
	}
}

// onConfirm logs a confirmation that was written without error.
func (l *Listener) onConfirm(s *Socket, to netip.AddrPort, err error) {
	port := s.Port()

	if err != nil {
		l.confirmErrs.Add(1)
		l.recorder.RecordConfirmError(port)
		l.confirmErrLog.Log(slog.LevelWarn, "confirmation failed",
			slog.Int(logging.KeyPort, int(port)),
			slog.String(logging.KeyRemoteAddr, to.String()),
			slog.String(logging.KeyError, err.Error()))
		return
	}

	l.confirmations.Add(1)
	l.recorder.RecordConfirm(port)

	logFn, _ := l.subscribers()
	if logFn != nil {
		logFn(LogRecord{
			Kind:   EventConfirm,
			Time:   time.Now(),
			Port:   port,
			Remote: to,
		})
	}
}
