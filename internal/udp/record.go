package udp

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/postalsys/confirmd/internal/logging"
)

// EventKind identifies the completion a LogRecord describes.
type EventKind int

const (
	// EventReceive is a datagram received without error.
	EventReceive EventKind = iota
	// EventConfirm is a confirmation sent without error.
	EventConfirm
)

// String returns a human-readable name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventReceive:
		return "receive"
	case EventConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// LogRecord is the structured event handed to a subscribed logger.
type LogRecord struct {
	Kind   EventKind
	Time   time.Time
	Port   uint16
	Remote netip.AddrPort
	Bytes  int
}

// Message renders the record without its timestamp.
func (r LogRecord) Message() string {
	switch r.Kind {
	case EventReceive:
		unit := "bytes"
		if r.Bytes == 1 {
			unit = "byte"
		}
		return fmt.Sprintf("received %d %s from %s on port %d", r.Bytes, unit, r.Remote, r.Port)
	case EventConfirm:
		return fmt.Sprintf("confirmed transfer to %s on port %d", r.Remote, r.Port)
	default:
		return "unknown event on port " + strconv.Itoa(int(r.Port))
	}
}

// String renders the record with an RFC 3339 timestamp prefix.
func (r LogRecord) String() string {
	return r.Time.Format(time.RFC3339Nano) + " " + r.Message()
}

// LogFunc receives log records from a Listener.
type LogFunc func(LogRecord)

// DataReaderFunc receives an owned copy of every payload received without
// error.
type DataReaderFunc func(data []byte)

// SlogLogFunc returns a LogFunc that writes each record to logger at info
// level, keeping the record's fields as attributes.
func SlogLogFunc(logger *slog.Logger) LogFunc {
	return func(r LogRecord) {
		attrs := []any{
			slog.String("event", r.Kind.String()),
			slog.Int(logging.KeyPort, int(r.Port)),
			slog.String(logging.KeyRemoteAddr, r.Remote.String()),
		}
		if r.Kind == EventReceive {
			attrs = append(attrs, slog.Int(logging.KeyBytes, r.Bytes))
		}
		logger.Info(r.Message(), attrs...)
	}
}

// ConfirmationMessage returns the confirmation text sent for a datagram of
// n bytes. The wording is fixed regardless of n.
func ConfirmationMessage(n int) string {
	return "Successfully transferred " + strconv.Itoa(n) + " bytes"
}
