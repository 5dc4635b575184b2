// Package httputil builds the hardened HTTP clients behind kegpm's two
// upstream surfaces: the formulae.brew.sh JSON API and the ghcr.io bottle
// mirror. Both upstreams are HTTPS-only and redirect-happy (bottle blob
// requests in particular bounce through CDN hosts), so every client here
// validates each redirect hop: HTTPS is required, the hop count is
// bounded, and the target host must not resolve to a private, loopback,
// link-local, multicast, or unspecified address.
package httputil

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// Options carries the per-client knobs that differ between kegpm's two
// request profiles. Zero values fall back to MetadataOptions.
type Options struct {
	// Timeout bounds the whole request, body included.
	Timeout time.Duration

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers; the
	// body may then stream for as long as Timeout allows.
	ResponseHeaderTimeout time.Duration

	// MaxRedirects bounds the redirect chain.
	MaxRedirects int
}

// MetadataOptions sizes a client for small JSON responses such as formula
// manifests. Responses are a few KiB, so the whole request fits in 30
// seconds. The OCI client does not use it: its single DownloadOptions
// client serves GHCR token exchange, tag lists and manifests as well as
// blobs.
func MetadataOptions() Options {
	return Options{
		Timeout:               30 * time.Second,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxRedirects:          10,
	}
}

// DownloadOptions sizes a client for bottle archives: blobs run to
// hundreds of MiB, so the overall budget is generous while the
// time-to-first-header stays as tight as the metadata profile.
func DownloadOptions() Options {
	opts := MetadataOptions()
	opts.Timeout = 15 * time.Minute
	return opts
}

// NewClient builds an *http.Client from opts.
//
// Transport-level compression is always disabled: a bottle blob's sha256
// is computed over the compressed layer bytes, so transparent gzip
// decoding would make every digest check fail, and the JSON surfaces are
// small enough not to miss it.
func NewClient(opts Options) *http.Client {
	defaults := MetadataOptions()
	if opts.Timeout == 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.TLSHandshakeTimeout == 0 {
		opts.TLSHandshakeTimeout = defaults.TLSHandshakeTimeout
	}
	if opts.ResponseHeaderTimeout == 0 {
		opts.ResponseHeaderTimeout = defaults.ResponseHeaderTimeout
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = defaults.MaxRedirects
	}

	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			DisableCompression: true,
			DialContext: (&net.Dialer{
				Timeout:   opts.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: checkRedirect(opts.MaxRedirects),
	}
}

// checkRedirect returns the CheckRedirect hook enforcing the package's
// redirect policy: HTTPS only, at most maxRedirects hops, and no hop to
// a blocked address. Hostname targets have every resolved IP validated,
// not just the first, so a host that mixes public and private records
// cannot smuggle a request inside.
func checkRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if req.URL.Scheme != "https" {
			return fmt.Errorf("redirect to non-HTTPS URL is not allowed: %s", req.URL)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("too many redirects")
		}

		host := req.URL.Hostname()
		if ip := net.ParseIP(host); ip != nil {
			return validateIP(ip, host)
		}

		ips, err := net.LookupIP(host)
		if err != nil {
			return fmt.Errorf("failed to resolve redirect host %s: %w", host, err)
		}
		for _, ip := range ips {
			if err := validateIP(ip, host); err != nil {
				return fmt.Errorf("refusing redirect: %s resolves to blocked IP %s", host, ip)
			}
		}
		return nil
	}
}
