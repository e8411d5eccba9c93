package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auth-platform/platform/api-gateway/internal/policy"
	"github.com/auth-platform/platform/api-gateway/internal/routes"
)

// Failure kinds reported to the circuit breaker and metrics.
const (
	FailureTimeout   = "timeout"
	FailureTransport = "transport"
	FailureUpstream  = "upstream_5xx"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	retryBackoff           = 100 * time.Millisecond
)

// Outcome is the result of one forwarded request: the status written to
// the client plus the failure classification, if any.
type Outcome struct {
	StatusCode  int
	FailureKind string // empty on success
	Err         error
}

// Failed reports whether the upstream outcome counts against the breaker.
func (o Outcome) Failed() bool { return o.FailureKind != "" }

// Proxy forwards matched requests to their upstream target.
type Proxy struct {
	client *http.Client
	logger *slog.Logger
}

// NewProxy creates a proxy with a pooled transport. Timeouts are applied
// per request from the route configuration.
func NewProxy(logger *slog.Logger) *Proxy {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Proxy{
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

// Forward sends the request upstream and relays the response. Transport
// errors and upstream 5xx are retried up to the route's retry count; the
// final failure is translated to a gateway error response.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, route routes.Route, tmpl *routes.Template, reqCtx *policy.RequestContext) Outcome {
	target, err := buildTargetURL(route, tmpl, r.URL)
	if err != nil {
		p.logger.Error("invalid upstream target",
			slog.String("route", route.Name),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "Bad Gateway", "Invalid upstream target")
		return Outcome{StatusCode: http.StatusBadGateway, FailureKind: FailureTransport, Err: err}
	}

	timeout := defaultUpstreamTimeout
	if route.TimeoutMs > 0 {
		timeout = time.Duration(route.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	// With no retries the body streams straight through; retried routes
	// buffer it so every attempt can resend it.
	attempts := route.Retries + 1
	var body []byte
	if attempts > 1 && r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Bad Request", "Failed to read request body")
			return Outcome{StatusCode: http.StatusBadRequest, FailureKind: FailureTransport, Err: err}
		}
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return p.timeoutOutcome(w, route, ctx.Err())
			case <-time.After(retryBackoff):
			}
		}

		var reader io.Reader
		contentLength := int64(0)
		if attempts > 1 {
			if len(body) > 0 {
				reader = bytes.NewReader(body)
				contentLength = int64(len(body))
			}
		} else {
			reader = r.Body
			contentLength = r.ContentLength
		}

		resp, err := p.attempt(ctx, r, target, reader, contentLength, reqCtx)
		if err != nil {
			if ctx.Err() != nil {
				return p.timeoutOutcome(w, route, err)
			}
			lastErr = err
			p.logger.Warn("upstream attempt failed",
				slog.String("route", route.Name),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		if resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			lastErr = nil
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}

		return relay(w, resp)
	}

	if lastErr != nil {
		writeError(w, http.StatusBadGateway, "Bad Gateway", "Upstream connection failed")
		return Outcome{StatusCode: http.StatusBadGateway, FailureKind: FailureTransport, Err: lastErr}
	}

	writeError(w, http.StatusBadGateway, "Bad Gateway", "Upstream returned an error")
	return Outcome{
		StatusCode:  http.StatusBadGateway,
		FailureKind: FailureUpstream,
		Err:         errors.New("upstream status " + http.StatusText(lastStatus)),
	}
}

func (p *Proxy) timeoutOutcome(w http.ResponseWriter, route routes.Route, err error) Outcome {
	p.logger.Warn("upstream request timed out", slog.String("route", route.Name))
	writeError(w, http.StatusGatewayTimeout, "Gateway Timeout", "Upstream request timed out")
	return Outcome{StatusCode: http.StatusGatewayTimeout, FailureKind: FailureTimeout, Err: err}
}

func (p *Proxy) attempt(ctx context.Context, r *http.Request, target *url.URL, body io.Reader, contentLength int64, reqCtx *policy.RequestContext) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Request-Id", reqCtx.RequestID)
	appendForwardedFor(req.Header, reqCtx.ClientIP)
	req.Host = target.Host
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	return p.client.Do(req)
}

// relay copies the upstream response through to the client.
func relay(w http.ResponseWriter, resp *http.Response) Outcome {
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return Outcome{StatusCode: resp.StatusCode}
}

// buildTargetURL joins the route target with the matched path remainder
// and the original query string.
func buildTargetURL(route routes.Route, tmpl *routes.Template, reqURL *url.URL) (*url.URL, error) {
	target, err := url.Parse(route.Target)
	if err != nil {
		return nil, err
	}

	remainder := tmpl.Remainder(reqURL.Path)
	basePath := strings.TrimSuffix(target.Path, "/")
	if remainder != "" && !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}
	target.Path = basePath + remainder
	target.RawQuery = reqURL.RawQuery
	return target, nil
}

// hopByHop headers are connection-scoped and never forwarded.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func appendForwardedFor(h http.Header, clientIP string) {
	if clientIP == "" {
		return
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
		return
	}
	h.Set("X-Forwarded-For", clientIP)
}

// clientIPFrom extracts the host part of a remote address.
func clientIPFrom(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
