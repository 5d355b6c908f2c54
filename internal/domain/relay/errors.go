package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrBodyTooLarge is returned by a Fetcher when the upstream body
	// exceeds its ceiling.
	ErrBodyTooLarge = errors.New("upstream response body too large")
	// ErrTooManyRedirects is returned by a Fetcher when the redirect chain
	// exceeds its limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrUpstreamUnavailable marks upstream calls rejected locally, e.g. by
	// an open circuit breaker.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRedirectBlocked marks a redirect to a host the policy refuses.
	ErrRedirectBlocked = errors.New("redirect target not allowed")
)

// Kind classifies a failed relay.
type Kind int

const (
	KindUnclassified Kind = iota
	KindClientInput
	KindBlocked
	KindUpstreamTimeout
	KindUpstreamTransport
	KindCanceled
)

// String returns the kind as reported in error bodies and metrics.
func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindBlocked:
		return "blocked"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamTransport:
		return "upstream_transport"
	case KindCanceled:
		return "canceled"
	default:
		return "unclassified"
	}
}

// StatusClientClosedRequest is used when the caller went away mid-relay.
const StatusClientClosedRequest = 499

// Status returns the HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindClientInput:
		return http.StatusBadRequest
	case KindBlocked:
		return http.StatusForbidden
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamTransport:
		return http.StatusBadGateway
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the failure result of Handle.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Status:  kind.Status(),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts an *Error from err, wrapping anything else as
// unclassified.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr
	}
	return newError(KindUnclassified, err, "%v", err)
}

// classifyFetchError maps a Fetcher error to the relay taxonomy. parent is
// the caller's context, fetchCtx the one carrying the upstream deadline.
func classifyFetchError(parent, fetchCtx context.Context, host string, err error) *Error {
	var (
		dnsErr      *net.DNSError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		netErr      net.Error
	)

	switch {
	case parent.Err() != nil:
		return newError(KindCanceled, err, "request canceled")
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return newError(KindUpstreamTimeout, err, "upstream %s did not respond in time", host)
	case errors.Is(err, ErrBodyTooLarge):
		return newError(KindUpstreamTransport, err, "upstream %s response exceeds the size limit", host)
	case errors.Is(err, ErrTooManyRedirects):
		return newError(KindUpstreamTransport, err, "upstream %s redirected too many times", host)
	case errors.Is(err, ErrRedirectBlocked):
		return newError(KindBlocked, err, "upstream %s redirected to a host that is not allowed", host)
	case errors.Is(err, ErrUpstreamUnavailable):
		return newError(KindUpstreamTransport, err, "upstream %s is temporarily unavailable", host)
	case errors.As(err, &dnsErr):
		return newError(KindUpstreamTransport, err, "could not resolve host %s", host)
	case errors.Is(err, syscall.ECONNREFUSED):
		return newError(KindUpstreamTransport, err, "connection to %s refused", host)
	case errors.Is(err, syscall.ECONNRESET):
		return newError(KindUpstreamTransport, err, "connection to %s reset", host)
	case errors.As(err, &unknownCA), errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert), errors.As(err, &verifyErr):
		return newError(KindUpstreamTransport, err, "TLS certificate of %s rejected", host)
	case errors.As(err, &recordErr):
		return newError(KindUpstreamTransport, err, "TLS handshake with %s failed", host)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return newError(KindUpstreamTransport, err, "connection to %s closed unexpectedly", host)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindUpstreamTimeout, err, "upstream %s did not respond in time", host)
	case errors.As(err, &netErr):
		return newError(KindUpstreamTransport, err, "network error talking to %s", host)
	default:
		return newError(KindUnclassified, err, "fetching %s failed: %v", host, err)
	}
}
