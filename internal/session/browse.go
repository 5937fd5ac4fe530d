package session

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/recorder"
	"github.com/torosent/crankbench/internal/telemetry"
)

// MaxRedirects caps the redirect hops followed by one step.
const MaxRedirects = 10

// CallOption customizes one operation.
type CallOption func(*call)

// WithParams appends parameters in order. Repeated keys are kept.
func WithParams(params ...httpclient.Param) CallOption {
	return func(c *call) { c.params = append(c.params, params...) }
}

// WithValues appends url.Values as repeated pairs sorted by key.
func WithValues(v url.Values) CallOption {
	return func(c *call) { c.params = append(c.params, httpclient.ParamsFromValues(v)...) }
}

// WithSelection appends one pair per selected value, as a multi-valued form
// control would submit them.
func WithSelection(key string, options map[string]bool) CallOption {
	return func(c *call) {
		values := make([]string, 0, len(options))
		for v, selected := range options {
			if selected {
				values = append(values, v)
			}
		}
		sort.Strings(values)
		for _, v := range values {
			c.params = append(c.params, httpclient.Param{Key: key, Value: v})
		}
	}
}

// WithBody sends a raw body, used by PUT and custom methods.
func WithBody(body httpclient.BodySource, contentType string) CallOption {
	return func(c *call) {
		c.body = body
		c.contentType = contentType
	}
}

// WithDescription labels the call in the report.
func WithDescription(description string) CallOption {
	return func(c *call) { c.description = description }
}

// WithOKCodes replaces the accepted status codes.
func WithOKCodes(codes ...int) CallOption {
	return func(c *call) { c.okCodes = codes }
}

// WithoutAutoLinks skips embedded resources of an HTML response.
func WithoutAutoLinks() CallOption {
	return func(c *call) { c.autoLinks = false }
}

type call struct {
	method      string
	url         string
	params      []httpclient.Param
	body        httpclient.BodySource
	contentType string
	description string
	okCodes     []int
	autoLinks   bool
	sleep       bool
}

func newCall(method, rawURL string, opts []CallOption) call {
	c := call{
		method:    strings.ToUpper(method),
		url:       rawURL,
		autoLinks: true,
		sleep:     true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Get fetches url, following redirects and loading embedded resources.
func (s *Session) Get(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodGet, url, opts...)
}

// Post submits params as a form.
func (s *Session) Post(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodPost, url, opts...)
}

// Put sends params or a body with PUT.
func (s *Session) Put(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodPut, url, opts...)
}

// Delete issues a DELETE.
func (s *Session) Delete(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodDelete, url, opts...)
}

// Head issues a HEAD.
func (s *Session) Head(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodHead, url, opts...)
}

// Options issues an OPTIONS.
func (s *Session) Options(ctx context.Context, url string, opts ...CallOption) (*httpclient.Response, error) {
	return s.Method(ctx, http.MethodOptions, url, opts...)
}

// Method issues a request with any method name, such as MKCOL or MOVE. It
// starts a new step.
func (s *Session) Method(ctx context.Context, method, url string, opts ...CallOption) (*httpclient.Response, error) {
	s.steps++
	s.pageResponses = 0
	return s.browse(ctx, newCall(method, url, opts))
}

// Propfind issues a WebDAV PROPFIND, accepting 207 unless other codes are
// given. A negative depth sends no Depth header.
func (s *Session) Propfind(ctx context.Context, url string, depth int, opts ...CallOption) (*httpclient.Response, error) {
	opts = append([]CallOption{WithOKCodes(207)}, opts...)
	if depth >= 0 {
		s.header.Set("Depth", strconv.Itoa(depth))
		defer s.header.Del("Depth")
	}
	return s.Method(ctx, "PROPFIND", url, opts...)
}

func (s *Session) browse(ctx context.Context, c call) (*httpclient.Response, error) {
	s.last, s.lastDoc = nil, nil
	if s.loop != nil {
		s.loop.observe(s.steps, c, s.log)
	}
	okCodes := c.okCodes
	if len(okCodes) == 0 {
		okCodes = s.cfg.OKCodes
	}

	target := c.url
	params := c.params
	if c.method == http.MethodGet && len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + httpclient.EncodeParams(params)
		params = nil
	}

	method := c.method
	resp, err := s.connect(ctx, exchange{
		method:      method,
		url:         target,
		params:      params,
		body:        c.body,
		contentType: c.contentType,
		description: c.description,
		okCodes:     okCodes,
	})
	if err != nil {
		return nil, err
	}

	hops := 0
	for isRedirect(resp.Code) && hops < MaxRedirects {
		next, err := resolve(target, resp.Header.Get("Location"))
		if err != nil {
			return nil, err
		}
		target = next
		if resp.Code == http.StatusFound || resp.Code == http.StatusSeeOther {
			method = http.MethodGet
		}
		if resp.Code == http.StatusSeeOther {
			s.header.Set("Connection", "close")
		}
		resp, err = s.connect(ctx, exchange{
			method:   method,
			url:      target,
			okCodes:  okCodes,
			redirect: true,
		})
		if err != nil {
			return nil, err
		}
		hops++
	}
	if isRedirect(resp.Code) {
		s.log.Warn("too many redirects, giving up", zap.String("url", target), zap.Int("hops", hops))
	}

	if c.autoLinks && resp.IsHTML && !s.cfg.SimpleFetch {
		if err := s.loadAutoLinks(ctx, resp); err != nil {
			return nil, err
		}
	}
	if c.sleep {
		if err := s.think(ctx); err != nil {
			return nil, err
		}
	}
	s.last = resp

	if s.loop != nil && s.loop.endsAt(s.steps) {
		if err := s.replayLoop(ctx); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

type exchange struct {
	method      string
	url         string
	params      []httpclient.Param
	body        httpclient.BodySource
	contentType string
	description string
	okCodes     []int
	redirect    bool
	rtype       string
}

// connect performs and records one network exchange of the current step.
func (s *Session) connect(ctx context.Context, x exchange) (*httpclient.Response, error) {
	rtype := x.rtype
	if rtype == "" {
		rtype = strings.ToLower(x.method)
	}
	aggregates := []telemetry.Aggregate{
		{Key: telemetry.KeyResponseByStep, Value: telemetry.ResponseByStep(s.steps, s.pageResponses, rtype, x.url)},
		{Key: telemetry.KeyResponseByDescription, Value: telemetry.ResponseByDescription(rtype, x.url, x.description)},
	}
	if isPageType(rtype) {
		aggregates = append(aggregates, telemetry.Aggregate{Key: telemetry.KeyPage, Value: telemetry.ResponseByDescription(rtype, x.url, x.description)})
	}

	var resp *httpclient.Response
	err := s.rec.Record(ctx, aggregates, func(ctx context.Context, scope *recorder.Scope) error {
		scope.AddMetadata("url", x.url)
		scope.AddMetadata("rtype", rtype)
		scope.AddMetadata("description", x.description)
		if x.redirect {
			scope.AddMetadata("redirect", "true")
		}
		s.pageResponses++

		r, err := s.fetcher.Fetch(ctx, httpclient.Request{
			Method:      x.method,
			URL:         x.url,
			Params:      x.params,
			Header:      s.requestHeader(),
			Body:        x.body,
			ContentType: x.contentType,
		})
		if err != nil {
			return &TransportError{Method: x.method, URL: x.url, Err: err}
		}
		if !slices.Contains(x.okCodes, r.Code) {
			return statusFailure(x.method, x.url, r.Code, r.Header, r.Body)
		}
		scope.AddMetadata("response_code", strconv.Itoa(r.Code))
		switch x.method {
		case http.MethodPut, http.MethodPost, http.MethodGet, http.MethodDelete:
			s.header.Set("Referer", x.url)
		}
		s.history = append(s.history, HistoryEntry{Method: x.method, URL: x.url})
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isPageType(rtype string) bool {
	switch rtype {
	case "get", "post", "xmlrpc":
		return true
	}
	return false
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// loadAutoLinks fetches the embedded resources of an HTML page that the
// session has not loaded yet.
func (s *Session) loadAutoLinks(ctx context.Context, page *httpclient.Response) error {
	doc, err := s.document(page)
	if err != nil {
		s.log.Debug("cannot parse page for embedded resources", zap.String("url", page.URL), zap.Error(err))
		return nil
	}
	base := page.URL
	if doc.Base != "" {
		if b, err := resolve(page.URL, doc.Base); err == nil {
			base = b
		}
	}
	for _, src := range doc.Resources {
		link, err := resolve(base, src)
		if err != nil {
			continue
		}
		if _, cached := s.resources[link]; cached {
			continue
		}
		s.resources[link] = struct{}{}
		_, err = s.connect(ctx, exchange{
			method:  http.MethodGet,
			url:     link,
			okCodes: s.cfg.OKCodes,
			rtype:   "link",
		})
		if err == nil {
			continue
		}
		if s.cfg.AcceptInvalidLinks {
			s.log.Warn("invalid embedded resource", zap.String("page", page.URL), zap.String("url", link), zap.Error(err))
			continue
		}
		return err
	}
	return nil
}

func (s *Session) document(resp *httpclient.Response) (*httpclient.Document, error) {
	if resp == s.last && s.lastDoc != nil {
		return s.lastDoc, nil
	}
	doc, err := httpclient.ParseDocument(resp.Body)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
