//go:build !unix

package udp

import (
	"errors"
	"strings"
	"syscall"
)

// Windows reports WSAEADDRINUSE (10048), which syscall does not export.
const wsaeAddrInUse = syscall.Errno(10048)

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, wsaeAddrInUse) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "address already in use")
}
