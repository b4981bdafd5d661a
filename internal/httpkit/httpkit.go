// Package httpkit builds the outbound HTTP clients shared by the
// reasoners and the search and fetch tools.
//
// Clients built here stamp a SunDevilHelper User-Agent on every request
// and can replay requests whose connection was never established, so a
// backend that is restarting gets a short grace period before the
// caller sees it as down.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/sundevil-helper/internal/buildinfo"
)

// Transport and client defaults.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 30 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// drainLimit bounds how much of an unread body Drain consumes before
// giving up on connection reuse.
const drainLimit = 64 << 10

// ClientOption configures a client built by NewClient.
type ClientOption func(*settings)

type settings struct {
	timeout        time.Duration
	responseHeader time.Duration
	agent          string
	retries        int
	backoff        time.Duration
	log            *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) { s.timeout = d }
}

// WithResponseHeaderTimeout bounds the wait for response headers once
// the request is written. Zero waits as long as the overall timeout
// allows; local models can take minutes to produce a first byte.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(s *settings) { s.responseHeader = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(s *settings) { s.agent = ua }
}

// WithRetry allows up to n further attempts when a request fails before
// a connection is made (see [IsUnreachable]). The k-th retry waits
// k*backoff. Requests whose body cannot be rewound are never replayed.
func WithRetry(n int, backoff time.Duration) ClientOption {
	return func(s *settings) {
		s.retries = n
		s.backoff = backoff
	}
}

// WithLogger sets the logger that records replayed requests.
func WithLogger(l *slog.Logger) ClientOption {
	return func(s *settings) { s.log = l }
}

// NewTransport returns an http.Transport with the package defaults.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client on a fresh default transport.
func NewClient(opts ...ClientOption) *http.Client {
	s := settings{
		timeout:        DefaultTimeout,
		responseHeader: DefaultResponseHeader,
		agent:          buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(&s)
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}

	base := NewTransport()
	base.ResponseHeaderTimeout = s.responseHeader

	return &http.Client{
		Timeout: s.timeout,
		Transport: &transport{
			next:    base,
			agent:   s.agent,
			retries: s.retries,
			backoff: s.backoff,
			log:     s.log,
		},
	}
}

// transport stamps the User-Agent and replays requests that never
// reached the server.
type transport struct {
	next    http.RoundTripper
	agent   string
	retries int
	backoff time.Duration
	log     *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req)
		if err == nil || attempt == t.retries || !IsUnreachable(err) || !replayable(req) {
			return resp, err
		}

		wait := t.backoff * time.Duration(attempt+1)
		t.log.Debug("connect failed, replaying request",
			"method", req.Method, "host", req.URL.Host, "retry", attempt+1, "wait", wait, "error", err)

		// A caller that gives up mid-wait still sees why the host was
		// unreachable, not a bare context error.
		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}

		if req, err = rewind(req); err != nil {
			return nil, err
		}
	}
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		next.Body = body
	}
	return next, nil
}

// IsUnreachable reports whether err means no connection to the remote
// host was ever made: refused, no route, or an unresolvable name.
// Resets and timeouts are excluded since the server may already have
// acted on the request.
func IsUnreachable(err error) bool {
	var (
		errno  syscall.Errno
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &errno) && isDialErrno(errno):
		return true
	case errors.As(err, &dnsErr):
		return !dnsErr.IsTimeout
	case errors.As(err, &opErr):
		return opErr.Op == "dial" && !opErr.Timeout()
	}
	return false
}

func isDialErrno(e syscall.Errno) bool {
	return e == syscall.ECONNREFUSED || e == syscall.EHOSTUNREACH || e == syscall.ENETUNREACH
}

// Drain discards what is left of a response body and closes it so the
// connection can go back to the pool.
func Drain(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, rc, drainLimit)
	rc.Close()
}

// ErrorBody returns at most limit bytes of a failed response body for
// use in an error message, then drains the rest.
func ErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer Drain(rc)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(unreadable body: %v)", err)
	}
	return string(body)
}
