package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/torosent/crankbench/internal/tracing"
)

// Param is one form or query parameter. Order and repetition are preserved.
type Param struct {
	Key   string
	Value string
}

// ParamsFromValues flattens url.Values into sorted repeated pairs.
func ParamsFromValues(v url.Values) []Param {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []Param
	for _, k := range keys {
		for _, val := range v[k] {
			out = append(out, Param{Key: k, Value: val})
		}
	}
	return out
}

// Request describes one fetch.
type Request struct {
	Method string
	URL    string
	Params []Param
	Header http.Header
	Body   BodySource

	// ContentType applies to Body. Params of a body-carrying method are
	// form encoded when Body is nil.
	ContentType string
}

// Response is a fully read HTTP response.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
	URL    string
	IsHTML bool
}

// Options configure a Fetcher.
type Options struct {
	Timeout  time.Duration
	CertFile string
	KeyFile  string
	// Propagate injects W3C trace context into every request.
	Propagate bool
}

// Fetcher performs single HTTP exchanges for one virtual user. It keeps a
// cookie jar and never follows redirects itself.
type Fetcher struct {
	client    *http.Client
	opts      Options
	propagate bool
}

// New returns a Fetcher with its own cookie jar and connection pool.
func New(opts Options) (*Fetcher, error) {
	client, err := NewClient(opts.Timeout, opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.Jar = jar
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Fetcher{client: client, opts: opts, propagate: opts.Propagate}, nil
}

// ClearCookies drops every cookie of the session.
func (f *Fetcher) ClearCookies() {
	if jar, err := cookiejar.New(nil); err == nil {
		f.client.Jar = jar
	}
}

// Cookies returns the cookies the jar would send to rawURL.
func (f *Fetcher) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil || f.client.Jar == nil {
		return nil
	}
	return f.client.Jar.Cookies(u)
}

// Transport returns the round tripper used by the Fetcher.
func (f *Fetcher) Transport() http.RoundTripper { return f.client.Transport }

// Fetch performs req and reads the whole response body. Transport failures
// are returned as errors; any status code is a valid response.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := f.build(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		Code:   resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    httpReq.URL.String(),
		IsHTML: isHTML(resp.Header.Get("Content-Type")),
	}, nil
}

func (f *Fetcher) build(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", req.URL, err)
	}

	var body io.Reader
	contentType := req.ContentType
	var length int64 = -1
	switch {
	case req.Body != nil:
		rc, err := req.Body.NewReader()
		if err != nil {
			return nil, err
		}
		body = rc
		if n, ok := req.Body.ContentLength(); ok {
			length = n
		}
	case len(req.Params) > 0 && carriesBody(method):
		encoded := EncodeParams(req.Params)
		body = strings.NewReader(encoded)
		length = int64(len(encoded))
		contentType = "application/x-www-form-urlencoded"
	case len(req.Params) > 0:
		q := target.RawQuery
		if q != "" {
			q += "&"
		}
		target.RawQuery = q + EncodeParams(req.Params)
	}
	if body == nil {
		body = http.NoBody
		length = 0
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if length >= 0 {
		httpReq.ContentLength = length
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if strings.EqualFold(httpReq.Header.Get("Connection"), "close") {
		httpReq.Close = true
	}
	if f.propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}
	return httpReq, nil
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// EncodeParams renders params as an application/x-www-form-urlencoded string
// keeping their order.
func EncodeParams(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ValidateHeader canonicalizes a header key and rejects keys or values that
// would corrupt the request.
func ValidateHeader(key, value string) (string, error) {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n: ") {
		return "", fmt.Errorf("invalid header key %q", key)
	}
	canonicalKey := http.CanonicalHeaderKey(trimmedKey)
	if strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("invalid header value for %s", canonicalKey)
	}
	return canonicalKey, nil
}

// NewClient returns an HTTP client tuned for load generation. When certFile
// and keyFile are set the client presents that certificate.
func NewClient(timeout time.Duration, certFile, keyFile string) (*http.Client, error) {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, errors.New("client certificate requires both a cert and a key file")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// RawBody wraps a byte slice as a BodySource.
func RawBody(data []byte) BodySource {
	return &inlineBodySource{data: bytes.Clone(data)}
}

// SetClientCertificate replaces the TLS client certificate presented by the
// session. Empty paths remove it.
func (f *Fetcher) SetClientCertificate(certFile, keyFile string) error {
	client, err := NewClient(f.opts.Timeout, certFile, keyFile)
	if err != nil {
		return err
	}
	f.opts.CertFile, f.opts.KeyFile = certFile, keyFile
	f.client.Transport = client.Transport
	return nil
}
