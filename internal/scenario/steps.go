package scenario

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/extractor"
	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/variables"
)

// Step is one action of a scenario file.
type Step struct {
	// Method is an HTTP method (get, post, put, delete, head, options,
	// propfind or any other name), or one of xmlrpc, exists, wait,
	// clear_context.
	Method      string                `yaml:"method"`
	URL         string                `yaml:"url"`
	Description string                `yaml:"description"`
	Params      Params                `yaml:"params"`
	Body        string                `yaml:"body"`
	BodyFile    string                `yaml:"body_file"`
	ContentType string                `yaml:"content_type"`
	OKCodes     []int                 `yaml:"ok_codes"`
	AutoLinks   *bool                 `yaml:"auto_links"`
	Headers     map[string]string     `yaml:"headers"`
	Depth       *int                  `yaml:"depth"`
	BasicAuth   *BasicAuth            `yaml:"basic_auth"`
	XMLRPC      *XMLRPCCall           `yaml:"xmlrpc"`
	Timeout     time.Duration         `yaml:"timeout"`
	Poll        time.Duration         `yaml:"poll"`
	Extract     []extractor.Extractor `yaml:"extract"`
	Expect      *Expect               `yaml:"expect"`
}

// BasicAuth credentials; an empty user clears them.
type BasicAuth struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// XMLRPCCall names the remote method and its positional parameters.
type XMLRPCCall struct {
	Method string      `yaml:"method"`
	Params []yaml.Node `yaml:"params"`
}

// Expect holds assertions checked after a step.
type Expect struct {
	Contains    []string `yaml:"contains"`
	NotContains []string `yaml:"not_contains"`
	URLMatches  string   `yaml:"url_matches"`
	Exists      *bool    `yaml:"exists"`
}

func (st Step) kind() string {
	return strings.ToLower(strings.TrimSpace(st.Method))
}

func (st Step) validate() error {
	switch st.kind() {
	case "":
		return fmt.Errorf("method is required")
	case "clear_context":
		return nil
	case "xmlrpc":
		if st.XMLRPC == nil || st.XMLRPC.Method == "" {
			return fmt.Errorf("xmlrpc step needs xmlrpc.method")
		}
	case "wait":
		if st.Timeout <= 0 {
			return fmt.Errorf("wait step needs a positive timeout")
		}
	}
	if strings.TrimSpace(st.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if st.Body != "" && st.BodyFile != "" {
		return fmt.Errorf("body and body_file are mutually exclusive")
	}
	if st.Expect != nil && st.Expect.URLMatches != "" {
		if _, err := regexp.Compile(st.Expect.URLMatches); err != nil {
			return fmt.Errorf("expect.url_matches: %w", err)
		}
	}
	return nil
}

func (st Step) run(ctx context.Context, s *session.Session, store variables.Store, dir string, log *zap.Logger) error {
	for k, v := range st.Headers {
		if err := s.SetHeader(k, store.Expand(v)); err != nil {
			return err
		}
	}
	if st.BasicAuth != nil {
		if st.BasicAuth.User == "" {
			s.ClearBasicAuth()
		} else {
			s.SetBasicAuth(store.Expand(st.BasicAuth.User), store.Expand(st.BasicAuth.Password))
		}
	}

	target := store.Expand(st.URL)
	switch st.kind() {
	case "clear_context":
		return s.ClearContext()
	case "wait":
		poll := st.Poll
		if poll <= 0 {
			poll = 2 * time.Second
		}
		return s.WaitUntilAvailable(ctx, target, st.Timeout, poll)
	case "exists":
		found, err := s.Exists(ctx, target, st.callOptions(store, nil)...)
		if err != nil {
			return err
		}
		if st.Expect != nil && st.Expect.Exists != nil && *st.Expect.Exists != found {
			return session.Fail("%s: exists = %v, expected %v", target, found, *st.Expect.Exists)
		}
		return nil
	case "xmlrpc":
		params, err := decodeXMLRPCParams(st.XMLRPC.Params, store)
		if err != nil {
			return err
		}
		_, err = s.XMLRPC(ctx, target, st.XMLRPC.Method, params, store.Expand(st.Description))
		return err
	}

	var body httpclient.BodySource
	if st.Body != "" || st.BodyFile != "" {
		file := st.BodyFile
		if file != "" && !filepath.IsAbs(file) && dir != "" {
			file = filepath.Join(dir, file)
		}
		var err error
		body, err = httpclient.NewBodySource(store.Expand(st.Body), file)
		if err != nil {
			return err
		}
	}
	opts := st.callOptions(store, body)

	var (
		resp *httpclient.Response
		err  error
	)
	switch st.kind() {
	case "propfind":
		depth := -1
		if st.Depth != nil {
			depth = *st.Depth
		}
		resp, err = s.Propfind(ctx, target, depth, opts...)
	default:
		resp, err = s.Method(ctx, strings.ToUpper(st.kind()), target, opts...)
	}
	if err != nil {
		if len(st.Extract) > 0 {
			extractOnError(st.Extract, err, store, log)
		}
		return err
	}

	if len(st.Extract) > 0 {
		values, err := extractor.ExtractAll(resp.Header, resp.Body, st.Extract, log)
		for k, v := range values {
			store.Set(k, v)
		}
		if err != nil {
			return session.Fail("%s: %v", target, err)
		}
	}
	return st.check(resp, s.LastURL())
}

func (st Step) callOptions(store variables.Store, body httpclient.BodySource) []session.CallOption {
	var opts []session.CallOption
	if st.Description != "" {
		opts = append(opts, session.WithDescription(store.Expand(st.Description)))
	}
	if len(st.Params) > 0 {
		params := make([]httpclient.Param, len(st.Params))
		for i, p := range st.Params {
			params[i] = httpclient.Param{Key: store.Expand(p.Key), Value: store.Expand(p.Value)}
		}
		opts = append(opts, session.WithParams(params...))
	}
	if body != nil {
		opts = append(opts, session.WithBody(body, st.ContentType))
	}
	if len(st.OKCodes) > 0 {
		opts = append(opts, session.WithOKCodes(st.OKCodes...))
	}
	if st.AutoLinks != nil && !*st.AutoLinks {
		opts = append(opts, session.WithoutAutoLinks())
	}
	return opts
}

// extractOnError runs the extractors flagged on_error against the body of a
// failed status check.
func extractOnError(extractors []extractor.Extractor, err error, store variables.Store, log *zap.Logger) {
	var failure *session.AssertionFailure
	if !errors.As(err, &failure) {
		return
	}
	var onError []extractor.Extractor
	for _, ex := range extractors {
		if ex.OnError {
			ex.Required = false
			onError = append(onError, ex)
		}
	}
	if len(onError) == 0 {
		return
	}
	values, _ := extractor.ExtractAll(failure.Header, failure.Body, onError, log)
	for k, v := range values {
		store.Set(k, v)
	}
}

func (st Step) check(resp *httpclient.Response, lastURL string) error {
	if st.Expect == nil {
		return nil
	}
	body := string(resp.Body)
	for _, want := range st.Expect.Contains {
		if !strings.Contains(body, want) {
			return &session.AssertionFailure{
				Message: fmt.Sprintf("%s: body does not contain %q", lastURL, want),
				Code:    resp.Code,
				Header:  resp.Header,
				Body:    resp.Body,
			}
		}
	}
	for _, unwanted := range st.Expect.NotContains {
		if strings.Contains(body, unwanted) {
			return &session.AssertionFailure{
				Message: fmt.Sprintf("%s: body contains %q", lastURL, unwanted),
				Code:    resp.Code,
				Header:  resp.Header,
				Body:    resp.Body,
			}
		}
	}
	if st.Expect.URLMatches != "" {
		if ok, _ := regexp.MatchString(st.Expect.URLMatches, lastURL); !ok {
			return session.Fail("last url %s does not match %q", lastURL, st.Expect.URLMatches)
		}
	}
	return nil
}

// decodeXMLRPCParams turns YAML values into XML-RPC arguments, expanding
// placeholders in strings.
func decodeXMLRPCParams(nodes []yaml.Node, store variables.Store) ([]interface{}, error) {
	out := make([]interface{}, 0, len(nodes))
	for i := range nodes {
		var v interface{}
		if err := nodes[i].Decode(&v); err != nil {
			return nil, fmt.Errorf("xmlrpc param %d: %w", i, err)
		}
		out = append(out, expandValue(v, store))
	}
	return out, nil
}

func expandValue(v interface{}, store variables.Store) interface{} {
	switch t := v.(type) {
	case string:
		return store.Expand(t)
	case []interface{}:
		for i := range t {
			t[i] = expandValue(t[i], store)
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = expandValue(t[k], store)
		}
		return t
	}
	return v
}
