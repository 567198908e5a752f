package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/pario-ai/google-proxy/pkg/errs"
)

// Class says whether a failed attempt may be repeated.
type Class int

const (
	Terminal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// StatusError is implemented by upstream errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// Classify returns Retryable for rate limiting (429), overload (503),
// server errors (500, 502, 504) and transient network failures including
// attempt timeouts. Everything else is Terminal.
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}

	var pe *errs.Error
	if errors.As(err, &pe) {
		if pe.Kind == errs.KindUpstreamRetryable {
			return Retryable
		}
		return Terminal
	}

	var se StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.HTTPStatus())
	}

	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Retryable
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return Retryable
	}
	var de *net.DNSError
	if errors.As(err, &de) && (de.IsTemporary || de.IsTimeout) {
		return Retryable
	}
	return Terminal
}

// ClassifyStatus classifies an HTTP status code.
func ClassifyStatus(status int) Class {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return Retryable
	default:
		return Terminal
	}
}
