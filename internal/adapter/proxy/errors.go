package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

// userFriendlyError turns a transport-level error into an operator-readable
// message with timing context, phrased around "backend" rather than any
// specific upstream kind since requests here aren't tied to one.
func userFriendlyError(err error, duration time.Duration, stage string, responseTimeout time.Duration) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		if duration < 2*time.Second {
			return fmt.Errorf("request cancelled after %.1fs - client disconnected immediately", duration.Seconds())
		}
		return fmt.Errorf("request cancelled after %.1fs - client disconnected during %s", duration.Seconds(), stage)

	case errors.Is(err, context.DeadlineExceeded):
		if responseTimeout > 0 {
			return fmt.Errorf("request timeout after %.1fs - exceeded configured timeout of %.1fs", duration.Seconds(), responseTimeout.Seconds())
		}
		return fmt.Errorf("request timeout after %.1fs", duration.Seconds())

	case errors.Is(err, io.EOF):
		if stage == "streaming" {
			return fmt.Errorf("backend closed connection after %.1fs - response stream ended unexpectedly", duration.Seconds())
		}
		return fmt.Errorf("connection closed after %.1fs - backend ended communication unexpectedly", duration.Seconds())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("network timeout after %.1fs - unable to reach backend", duration.Seconds())
		}
		return fmt.Errorf("network error after %.1fs - %w", duration.Seconds(), netErr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return fmt.Errorf("connection failed after %.1fs - cannot reach backend at %s", duration.Seconds(), opErr.Addr)
		case "read":
			return fmt.Errorf("connection lost after %.1fs while reading response", duration.Seconds())
		case "write":
			return fmt.Errorf("connection lost after %.1fs while sending request", duration.Seconds())
		}
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch {
		case errors.Is(syscallErr, syscall.ECONNREFUSED):
			return fmt.Errorf("connection refused after %.1fs - backend is not accepting connections", duration.Seconds())
		case errors.Is(syscallErr, syscall.ECONNRESET):
			return fmt.Errorf("connection reset after %.1fs - backend closed the connection", duration.Seconds())
		}
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "no such host"):
		return fmt.Errorf("DNS lookup failed after %.1fs - cannot resolve backend hostname", duration.Seconds())
	case strings.Contains(errStr, "TLS handshake timeout"):
		return fmt.Errorf("TLS handshake timeout after %.1fs", duration.Seconds())
	}

	return fmt.Errorf("request failed after %.1fs: %w", duration.Seconds(), err)
}
