package udp

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressInUse is returned when the OS refuses a bind because another
	// socket already owns the port. ListenOn reports it as a plain false.
	ErrAddressInUse = errors.New("address already in use")

	// ErrListenerClosed is returned by operations on a closed Listener.
	ErrListenerClosed = errors.New("listener closed")

	// ErrSocketClosed is returned when sending on a closed Socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrNoRemote is returned when a confirmation is requested before the
	// socket has received anything.
	ErrNoRemote = errors.New("no remote endpoint")

	errInvalidPort = errors.New("port 0 is not a listening port")
)

// TransportError is any bind or socket setup failure other than the port
// being in use. It is fatal for the port it names.
type TransportError struct {
	Port uint16
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("udp %s port %d: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyBindError maps a bind failure onto ErrAddressInUse or a
// TransportError.
func classifyBindError(port uint16, err error) error {
	if isAddrInUse(err) {
		return fmt.Errorf("bind port %d: %w", port, ErrAddressInUse)
	}
	return &TransportError{Port: port, Op: "bind", Err: err}
}
