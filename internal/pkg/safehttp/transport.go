// Package safehttp provides an outbound HTTP client that refuses to connect
// to private, loopback, or link-local addresses.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrDeniedAddress is wrapped by dial errors for blocked destinations.
var ErrDeniedAddress = errors.New("destination address denied")

// checkAddress runs after DNS resolution and before connect, so a hostname
// that resolves to a private address is refused too.
func checkAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrDeniedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unparseable IP %q", ErrDeniedAddress, host)
	}
	if denied(ip) {
		return fmt.Errorf("%w: %s", ErrDeniedAddress, ip)
	}
	return nil
}

func denied(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}

// NewTransport returns a transport whose dialer rejects private destinations.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   checkAddress,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewClient returns a client on NewTransport with an overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(), Timeout: timeout}
}
