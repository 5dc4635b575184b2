package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorType classifies registry errors for better handling.
type ErrorType int

const (
	ErrTypeNetwork ErrorType = iota
	ErrTypeNotFound
	ErrTypeParsing
	ErrTypeValidation
	ErrTypeRateLimit
	ErrTypeTimeout
	ErrTypeDNS
	ErrTypeConnection
	ErrTypeTLS
	ErrTypeCacheRead
	ErrTypeCacheWrite
)

// RegistryError provides structured error information for registry
// operations against formulae.brew.sh or ghcr.io.
type RegistryError struct {
	Type    ErrorType
	Package string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("registry: %s", e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Suggestion returns an actionable hint for the user based on the error
// type, or an empty string if none applies.
func (e *RegistryError) Suggestion() string {
	switch e.Type {
	case ErrTypeRateLimit:
		return "Wait a few minutes before trying again"
	case ErrTypeTimeout:
		return "Check your internet connection and try again"
	case ErrTypeDNS:
		return "Check your DNS settings and internet connection"
	case ErrTypeConnection:
		return "The registry may be down or blocked"
	case ErrTypeTLS:
		return "There may be a certificate issue; check your system clock"
	case ErrTypeNotFound:
		return "Verify the package name is correct"
	case ErrTypeNetwork:
		return "Check your internet connection and try again"
	default:
		return ""
	}
}

// classifyError examines an error and returns the most specific ErrorType
// it can determine via Go's error unwrapping.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrTypeNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrTypeNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrTypeTimeout
		}
		return ErrTypeDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrTypeTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ErrTypeTimeout
		}
		var innerDNS *net.DNSError
		if errors.As(opErr.Err, &innerDNS) {
			return ErrTypeDNS
		}
		return ErrTypeConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return ErrTypeTimeout
		}
		if strings.Contains(urlErr.Err.Error(), "certificate") ||
			strings.Contains(urlErr.Err.Error(), "tls") ||
			strings.Contains(urlErr.Err.Error(), "x509") {
			return ErrTypeTLS
		}
		return classifyError(urlErr.Err)
	}

	return ErrTypeNetwork
}

// WrapNetworkError wraps a network error with the appropriate error type
// based on classification.
func WrapNetworkError(err error, pkg, message string) *RegistryError {
	return &RegistryError{
		Type:    classifyError(err),
		Package: pkg,
		Message: message,
		Err:     err,
	}
}
