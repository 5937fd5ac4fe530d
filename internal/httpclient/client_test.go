package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestFetchEncodesParams(t *testing.T) {
	var gotQuery, gotBody, gotType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	f := newFetcher(t, Options{})
	params := []Param{{"tag", "a"}, {"tag", "b c"}}

	if _, err := f.Fetch(context.Background(), Request{Method: "get", URL: srv.URL + "/search?x=1", Params: params}); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodGet || gotQuery != "x=1&tag=a&tag=b+c" {
		t.Errorf("GET sent %s ?%s", gotMethod, gotQuery)
	}

	if _, err := f.Fetch(context.Background(), Request{Method: "POST", URL: srv.URL + "/search", Params: params}); err != nil {
		t.Fatal(err)
	}
	if gotBody != "tag=a&tag=b+c" || gotType != "application/x-www-form-urlencoded" {
		t.Errorf("POST sent body %q with type %q", gotBody, gotType)
	}

	if _, err := f.Fetch(context.Background(), Request{Method: "PUT", URL: srv.URL, Body: RawBody([]byte("<x/>")), ContentType: "text/xml"}); err != nil {
		t.Fatal(err)
	}
	if gotBody != "<x/>" || gotType != "text/xml" {
		t.Errorf("PUT sent body %q with type %q", gotBody, gotType)
	}
}

func TestFetchDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		w.Write([]byte("new"))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{})
	resp, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/old"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusFound || resp.Header.Get("Location") != "/new" {
		t.Fatalf("expected the redirect itself, got %d %q", resp.Code, resp.Header.Get("Location"))
	}
}

func TestFetchKeepsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "42", Path: "/"})
			return
		}
		c, err := r.Cookie("sid")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(c.Value))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{})
	if _, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/login"}); err != nil {
		t.Fatal(err)
	}
	resp, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/me"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusOK || string(resp.Body) != "42" {
		t.Fatalf("cookie not replayed: %d %q", resp.Code, resp.Body)
	}
	if len(f.Cookies(srv.URL)) != 1 {
		t.Errorf("expected one cookie in the jar")
	}

	f.ClearCookies()
	resp, err = f.Fetch(context.Background(), Request{URL: srv.URL + "/me"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected cookies cleared, got %d", resp.Code)
	}
}

func TestFetchDetectsHTML(t *testing.T) {
	tests := map[string]bool{
		"text/html; charset=utf-8": true,
		"application/xhtml+xml":    true,
		"application/json":         false,
		"":                         false,
	}
	for contentType, want := range tests {
		if got := isHTML(contentType); got != want {
			t.Errorf("isHTML(%q) = %v, want %v", contentType, got, want)
		}
	}
}

func TestFetchConnectionClose(t *testing.T) {
	f := newFetcher(t, Options{})
	req, err := f.build(context.Background(), Request{URL: "http://example.com", Header: http.Header{"Connection": {"close"}}})
	if err != nil {
		t.Fatal(err)
	}
	if !req.Close {
		t.Error("expected request to close its connection")
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
		wantErr    bool
	}{
		{"content-type", "text/xml", "Content-Type", false},
		{"  x-trace-id ", "", "X-Trace-Id", false},
		{"", "v", "", true},
		{"X-Bad\r\nKey", "v", "", true},
		{"X-Key", "bad\nvalue", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateHeader(tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateHeader(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ValidateHeader(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestClientTimeoutApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := newFetcher(t, Options{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestClientCertificateRequiresBothFiles(t *testing.T) {
	if _, err := NewClient(time.Second, "cert.pem", ""); err == nil {
		t.Fatal("expected error with a cert and no key")
	}
	if _, err := NewClient(time.Second, "/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatal("expected error for missing certificate files")
	}
}

func TestParamsFromValues(t *testing.T) {
	got := ParamsFromValues(url.Values{"b": {"2"}, "a": {"1", "3"}})
	want := []Param{{"a", "1"}, {"a", "3"}, {"b", "2"}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("param %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseDocument(t *testing.T) {
	page := `<html><head>
<base href="http://cdn.local/">
<link rel="stylesheet" href="/style.css">
<link rel="shortcut icon" href="/favicon.ico">
<script src="/app.js"></script>
</head><body background="/bg.png">
<a href="/cart">View <b>cart</b></a>
<a href="/item/1"><img src="/thumb.png" alt="Item one"></a>
<img src="/thumb.png"><img src="data:image/png;base64,AAA">
<a name="anchor-without-href">nothing</a>
</body></html>`
	doc, err := ParseDocument([]byte(page))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Base != "http://cdn.local/" {
		t.Errorf("base = %q", doc.Base)
	}
	wantLinks := []Link{{"View cart", "/cart"}, {"Item one", "/item/1"}}
	if len(doc.Links) != len(wantLinks) {
		t.Fatalf("links = %+v", doc.Links)
	}
	for i := range wantLinks {
		if doc.Links[i] != wantLinks[i] {
			t.Errorf("link %d = %+v, want %+v", i, doc.Links[i], wantLinks[i])
		}
	}
	wantRes := []string{"/style.css", "/favicon.ico", "/app.js", "/bg.png", "/thumb.png"}
	if strings.Join(doc.Resources, ",") != strings.Join(wantRes, ",") {
		t.Errorf("resources = %v, want %v", doc.Resources, wantRes)
	}
}

const xmlrpcReply = `<?xml version="1.0"?>
<methodResponse><params><param><value><string>pong</string></value></param></params></methodResponse>`

const xmlrpcFault = `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>4</int></value></member>
<member><name>faultString</name><value><string>Too many parameters.</string></value></member>
</struct></value></fault></methodResponse>`

func TestCallXMLRPC(t *testing.T) {
	var gotAuth, gotHeader string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass
		gotHeader = r.Header.Get("X-Bench")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/xml")
		if strings.Contains(gotBody, "broken") {
			w.Write([]byte(xmlrpcFault))
			return
		}
		w.Write([]byte(xmlrpcReply))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	u.User = url.UserPassword("admin", "secret")
	u.Path = "/RPC2"

	f := newFetcher(t, Options{})
	reply, err := f.CallXMLRPC(context.Background(), u.String(), "ping", []interface{}{"hello", 3}, http.Header{"X-Bench": {"1"}})
	if err != nil {
		t.Fatalf("CallXMLRPC error = %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %v, want pong", reply)
	}
	if gotAuth != "admin:secret" || gotHeader != "1" {
		t.Errorf("auth %q header %q", gotAuth, gotHeader)
	}
	if !strings.Contains(gotBody, "<methodName>ping</methodName>") || !strings.Contains(gotBody, "hello") {
		t.Errorf("unexpected call body %s", gotBody)
	}

	_, err = f.CallXMLRPC(context.Background(), u.String(), "broken", nil, nil)
	var fault *XMLRPCFault
	if !errors.As(err, &fault) || fault.Code != 4 {
		t.Fatalf("expected fault 4, got %v", err)
	}
}
