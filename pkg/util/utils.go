package util

import (
	"context"
	"strings"
	"time"

	"github.com/currantlabs/ble"
)

const (
	inf = 1000000
)

// AddrEqualAddr compares device addresses case insensitively.
func AddrEqualAddr(a string, b string) bool {
	return strings.ToUpper(a) == strings.ToUpper(b)
}

// MakeINFContext returns a context that effectively never expires, for
// advertise loops.
func MakeINFContext() context.Context {
	return ble.WithSigHandler(context.WithTimeout(context.Background(), inf*time.Hour))
}
