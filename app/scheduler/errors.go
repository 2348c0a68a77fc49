package scheduler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Fetch error categories. Stored on the source and shown to users, so the
// messages are short human-readable sentences, never raw error chains.
const (
	CategoryDNS        = "dns"
	CategoryConnection = "connection"
	CategoryTLS        = "tls"
	CategoryTimeout    = "timeout"
	CategoryHTTP       = "http"
	CategoryDocument   = "document"
)

// FetchError classifies a failed source fetch for display and backoff
// handling.
type FetchError struct {
	Category string
	Message  string
	Err      error

	// RetryAfter carries the server's explicit retry directive when the
	// failure came with one (429/503 Retry-After).
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Classify maps a transport error onto the fetch taxonomy.
func Classify(sourceURL string, err error) *FetchError {
	host := sourceURL
	if parsed, perr := url.Parse(sourceURL); perr == nil && parsed.Host != "" {
		host = parsed.Host
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{
			Category: CategoryDNS,
			Message:  fmt.Sprintf("Domain not found: %s", host),
			Err:      err,
		}
	}

	var certErr *tls.CertificateVerificationError
	var invalidErr x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	switch {
	case errors.As(err, &invalidErr):
		if invalidErr.Reason == x509.Expired {
			return &FetchError{Category: CategoryTLS, Message: "SSL certificate has expired", Err: err}
		}
		return &FetchError{Category: CategoryTLS, Message: "SSL certificate is invalid", Err: err}
	case errors.As(err, &unknownAuthErr):
		return &FetchError{Category: CategoryTLS, Message: "SSL certificate is not trusted", Err: err}
	case errors.As(err, &hostnameErr):
		return &FetchError{Category: CategoryTLS, Message: fmt.Sprintf("SSL certificate does not match %s", host), Err: err}
	case errors.As(err, &certErr):
		return &FetchError{Category: CategoryTLS, Message: "SSL certificate verification failed", Err: err}
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{
			Category: CategoryTimeout,
			Message:  fmt.Sprintf("Connection to %s timed out", host),
			Err:      err,
		}
	}

	return &FetchError{
		Category: CategoryConnection,
		Message:  fmt.Sprintf("Could not connect to %s", host),
		Err:      err,
	}
}

// ClassifyStatus maps a non-success HTTP response onto the taxonomy.
func ClassifyStatus(sourceURL string, status int) *FetchError {
	return &FetchError{
		Category: CategoryHTTP,
		Message:  fmt.Sprintf("Server returned HTTP %d", status),
		Err:      fmt.Errorf("unexpected status %d from %s", status, sourceURL),
	}
}

// ClassifyDocument marks an unparseable feed document: a permanent source
// problem that reduces polling frequency but never crashes the loop.
func ClassifyDocument(err error) *FetchError {
	return &FetchError{
		Category: CategoryDocument,
		Message:  "Feed document could not be parsed",
		Err:      err,
	}
}
