package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/recorder"
	"github.com/torosent/crankbench/internal/telemetry"
)

// Exists fetches url without embedded resources and reports whether it
// answered with a success or redirect status. 404 and 503 are not failures.
func (s *Session) Exists(ctx context.Context, url string, opts ...CallOption) (bool, error) {
	opts = append([]CallOption{WithDescription("Checking existence")}, opts...)
	opts = append(opts, WithOKCodes(200, 301, 302, 303, 307, 404, 503), WithoutAutoLinks())
	resp, err := s.Get(ctx, url, opts...)
	if err != nil {
		return false, err
	}
	if !slices.Contains(DefaultOKCodes, resp.Code) {
		s.log.Debug("page not found", zap.String("url", url), zap.Int("code", resp.Code))
		return false, nil
	}
	return true, nil
}

// WaitUntilAvailable polls url every poll until it answers, failing once
// timeout has elapsed. Polls are not recorded. An answer outside the
// accepted codes fails immediately.
func (s *Session) WaitUntilAvailable(ctx context.Context, url string, timeout, poll time.Duration) error {
	start := time.Now()
	for {
		resp, err := s.fetcher.Fetch(ctx, httpclient.Request{
			Method: http.MethodGet,
			URL:    url,
			Header: s.requestHeader(),
		})
		if err == nil {
			if !slices.Contains(DefaultOKCodes, resp.Code) {
				return statusFailure(http.MethodGet, url, resp.Code, resp.Header, resp.Body)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > timeout {
			return Fail("time out: service %s not available after %s", url, timeout)
		}
		if err := sleepContext(ctx, poll); err != nil {
			return err
		}
	}
}

// XMLRPC calls method on the XML-RPC endpoint at rawURL as a new step.
// Session credentials are embedded in the endpoint URL.
func (s *Session) XMLRPC(ctx context.Context, rawURL, method string, params []interface{}, description string) (interface{}, error) {
	s.steps++
	s.pageResponses = 0

	endpoint := rawURL
	if s.hasAuth {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid xmlrpc url %q: %w", rawURL, err)
		}
		u.User = url.UserPassword(s.user, s.pass)
		endpoint = u.String()
	}
	methodURL := rawURL + "#" + method
	aggregates := []telemetry.Aggregate{
		{Key: telemetry.KeyResponseByStep, Value: telemetry.ResponseByStep(s.steps, s.pageResponses, "xmlrpc", methodURL)},
		{Key: telemetry.KeyResponseByDescription, Value: telemetry.ResponseByDescription("xmlrpc", methodURL, description)},
		{Key: telemetry.KeyPage, Value: telemetry.ResponseByDescription("xmlrpc", methodURL, description)},
	}

	var reply interface{}
	err := s.rec.Record(ctx, aggregates, func(ctx context.Context, scope *recorder.Scope) error {
		scope.AddMetadata("url", methodURL)
		scope.AddMetadata("rtype", "xmlrpc")
		scope.AddMetadata("description", description)
		s.pageResponses++

		header := s.header.Clone()
		header.Del("Authorization")
		r, err := s.fetcher.CallXMLRPC(ctx, endpoint, method, params, header)
		if err != nil {
			var fault *httpclient.XMLRPCFault
			if errors.As(err, &fault) {
				return err
			}
			return &TransportError{Method: "XMLRPC", URL: methodURL, Err: err}
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.think(ctx); err != nil {
		return nil, err
	}
	return reply, nil
}

// LastURL returns the URL of the last response, after redirects.
func (s *Session) LastURL() string {
	if s.last == nil {
		return ""
	}
	return s.last.URL
}

// Body returns the body of the last response.
func (s *Session) Body() []byte {
	if s.last == nil {
		return nil
	}
	return s.last.Body
}

// LastResponse returns the last terminal response, or nil.
func (s *Session) LastResponse() *httpclient.Response {
	return s.last
}

// ListHref returns the anchors of the last HTML response whose href matches
// urlPattern and whose text matches contentPattern. Empty patterns match
// everything; a content pattern never matches an anchor without text.
func (s *Session) ListHref(urlPattern, contentPattern string) ([]string, error) {
	doc, err := s.lastDocument()
	if err != nil || doc == nil {
		return nil, err
	}
	var hrefRe, textRe *regexp.Regexp
	if urlPattern != "" {
		if hrefRe, err = regexp.Compile(urlPattern); err != nil {
			return nil, err
		}
	}
	if contentPattern != "" {
		if textRe, err = regexp.Compile(contentPattern); err != nil {
			return nil, err
		}
	}
	var out []string
	for _, link := range doc.Links {
		if hrefRe != nil && !hrefRe.MatchString(link.Href) {
			continue
		}
		if textRe != nil && (link.Text == "" || !textRe.MatchString(link.Text)) {
			continue
		}
		out = append(out, link.Href)
	}
	return out, nil
}

// LastBaseURL returns the href of the <base> element of the last response.
func (s *Session) LastBaseURL() string {
	doc, err := s.lastDocument()
	if err != nil || doc == nil {
		return ""
	}
	return doc.Base
}

func (s *Session) lastDocument() (*httpclient.Document, error) {
	if s.last == nil {
		return nil, nil
	}
	if s.lastDoc == nil {
		doc, err := s.document(s.last)
		if err != nil {
			return nil, err
		}
		s.lastDoc = doc
	}
	return s.lastDoc, nil
}
