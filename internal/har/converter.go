package har

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/scenario"
)

// BaseURLVariable holds the origin of the first recorded request. Requests
// to that origin are written relative to it so the scenario can be pointed
// at another server with --url.
const BaseURLVariable = "url"

// Options filter the recorded entries.
type Options struct {
	Name        string
	Description string
	// IncludeHosts keeps only these hosts; empty keeps every host.
	IncludeHosts []string
	ExcludeHosts []string
	// IncludeMethods keeps only these methods; empty keeps every method.
	IncludeMethods []string
	// ExcludeStatic drops scripts, stylesheets, images and fonts, which the
	// session loads itself from the fetched pages.
	ExcludeStatic  bool
	IncludeHeaders bool
}

// DefaultOptions records pages and their headers, without static assets.
func DefaultOptions(name string) Options {
	return Options{Name: name, ExcludeStatic: true, IncludeHeaders: true}
}

// Scenario is a recorded scenario file.
type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Steps       []Step            `yaml:"steps"`
}

// Step is one recorded request.
type Step struct {
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Description string            `yaml:"description,omitempty"`
	Body        string            `yaml:"body,omitempty"`
	ContentType string            `yaml:"content_type,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	OKCodes     []int             `yaml:"ok_codes,omitempty"`
}

// Convert turns the entries of h into scenario steps. Requests reached by
// following a recorded redirect are dropped since the session follows
// redirects itself.
func Convert(h *HAR, opts Options) (*Scenario, error) {
	if h == nil || h.Log == nil {
		return nil, errors.New("HAR is nil or has no log")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("scenario name is required")
	}

	titles := make(map[string]string, len(h.Log.Pages))
	for _, p := range h.Log.Pages {
		if p != nil {
			titles[p.ID] = p.Title
		}
	}

	sc := &Scenario{Name: opts.Name, Description: opts.Description}
	var base string
	redirects := make(map[string]bool)
	seenPages := make(map[string]bool)
	for _, entry := range h.Log.Entries {
		if !shouldInclude(entry, opts) {
			continue
		}
		req := entry.Request
		u, err := url.Parse(req.URL)
		if err != nil || u.Host == "" {
			continue
		}
		if redirects[u.String()] {
			delete(redirects, u.String())
			continue
		}
		if entry.Response != nil && entry.Response.RedirectURL != "" {
			if target, err := u.Parse(entry.Response.RedirectURL); err == nil {
				redirects[target.String()] = true
			}
		}

		origin := u.Scheme + "://" + u.Host
		if base == "" {
			base = origin
			sc.Variables = map[string]string{BaseURLVariable: base}
		}
		step := Step{
			Method:      strings.ToLower(req.Method),
			URL:         req.URL,
			Description: describe(req.Method, u),
		}
		if origin == base {
			step.URL = "{{" + BaseURLVariable + "}}" + strings.TrimPrefix(req.URL, base)
		}
		if title := titles[entry.PageRef]; title != "" && !seenPages[entry.PageRef] {
			step.Description = title
			seenPages[entry.PageRef] = true
		}
		if opts.IncludeHeaders {
			step.Headers = extractHeaders(req.Headers)
		}
		if pd := req.PostData; pd != nil {
			step.Body, step.ContentType = postBody(pd)
		}
		if entry.Response != nil && (entry.Response.Status >= 400 || (entry.Response.Status > 0 && entry.Response.Status < 200)) {
			step.OKCodes = []int{entry.Response.Status}
		}
		sc.Steps = append(sc.Steps, step)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("no request left after filtering")
	}
	return sc, nil
}

// Marshal encodes the scenario as YAML and checks that the result loads as
// a valid scenario file.
func (s *Scenario) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, err
	}
	if _, err := scenario.Parse(data, ""); err != nil {
		return nil, fmt.Errorf("recorded scenario: %w", err)
	}
	return data, nil
}

func describe(method string, u *url.URL) string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.ToUpper(method) + " " + path
}

func postBody(pd *PostData) (string, string) {
	if pd.Text != "" || len(pd.Params) == 0 {
		return pd.Text, pd.MimeType
	}
	form := url.Values{}
	for _, p := range pd.Params {
		if p != nil {
			form.Add(p.Name, p.Value)
		}
	}
	mime := pd.MimeType
	if mime == "" {
		mime = "application/x-www-form-urlencoded"
	}
	return form.Encode(), mime
}

func shouldInclude(entry *Entry, opts Options) bool {
	if entry == nil || entry.Request == nil {
		return false
	}
	req := entry.Request
	u, err := url.Parse(req.URL)
	if err != nil {
		return false
	}
	if len(opts.IncludeHosts) > 0 && !contains(opts.IncludeHosts, u.Host) {
		return false
	}
	if contains(opts.ExcludeHosts, u.Host) {
		return false
	}
	if len(opts.IncludeMethods) > 0 {
		found := false
		for _, m := range opts.IncludeMethods {
			if strings.EqualFold(req.Method, m) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return !opts.ExcludeStatic || !isStaticAsset(u.Path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var staticExtensions = []string{
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".woff", ".woff2", ".ttf", ".eot", ".ico", ".map",
}

func isStaticAsset(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range staticExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// skippedHeaders are hop-by-hop headers and those the session sets itself.
var skippedHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"cookie":              true,
	"content-length":      true,
	"content-type":        true,
	"user-agent":          true,
	"accept-encoding":     true,
}

func extractHeaders(headers []*Header) map[string]string {
	out := make(map[string]string)
	for _, h := range headers {
		if h == nil || strings.HasPrefix(h.Name, ":") || skippedHeaders[strings.ToLower(h.Name)] {
			continue
		}
		out[h.Name] = h.Value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
