package session_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/recorder"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/telemetry"
)

type memorySink struct {
	mu      sync.Mutex
	records []telemetry.Record
	config  []telemetry.Field
}

func (m *memorySink) WriteRecord(rec telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) WriteMonitor(telemetry.Sample) error { return nil }

func (m *memorySink) WriteMonitorConfig(string, string, string) error { return nil }

func (m *memorySink) Config(key, value string) error {
	m.config = append(m.config, telemetry.Field{Name: key, Value: value})
	return nil
}

func metadata(rec telemetry.Record, name string) string {
	for _, f := range rec.Metadata {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func aggregate(rec telemetry.Record, key string) string {
	for _, a := range rec.Aggregates {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func newSession(t *testing.T, cfg session.Config) (*session.Session, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	rec := recorder.New(sink, telemetry.Identity{TestName: "test_shop", ThreadID: 1})
	cfg.Metadata = sink
	s, err := session.New(rec, cfg)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return s, sink
}

func TestRedirectChainFromPost(t *testing.T) {
	type hit struct {
		method string
		close  bool
	}
	var mu sync.Mutex
	hits := map[string]hit{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path] = hit{method: r.Method, close: r.Close}
		mu.Unlock()
		switch r.URL.Path {
		case "/checkout":
			w.Header().Set("Location", "/checkout/confirm")
			w.WriteHeader(http.StatusFound)
		case "/checkout/confirm":
			w.Header().Set("Location", "done")
			w.WriteHeader(http.StatusSeeOther)
		case "/checkout/done":
			w.Write([]byte("thanks"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	resp, err := s.Post(context.Background(), srv.URL+"/checkout", session.WithParams(httpclient.Param{Key: "qty", Value: "1"}))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if resp.Code != http.StatusOK || string(resp.Body) != "thanks" {
		t.Fatalf("terminal response = %d %q", resp.Code, resp.Body)
	}
	if hits["/checkout"].method != http.MethodPost {
		t.Errorf("first request method = %s", hits["/checkout"].method)
	}
	if hits["/checkout/confirm"].method != http.MethodGet {
		t.Errorf("hop after 302 used %s, want GET", hits["/checkout/confirm"].method)
	}
	if hits["/checkout/confirm"].close {
		t.Error("connection should only be closed after the 303")
	}
	if got := hits["/checkout/done"]; got.method != http.MethodGet || !got.close {
		t.Errorf("hop after 303 = %+v, want GET with connection close", got)
	}
	if s.Steps() != 1 {
		t.Errorf("steps = %d, want 1", s.Steps())
	}
	if len(sink.records) != 3 {
		t.Fatalf("records = %d, want the step plus 2 redirect hops", len(sink.records))
	}
	for i, rec := range sink.records {
		wantRedirect := ""
		if i > 0 {
			wantRedirect = "true"
		}
		if metadata(rec, "redirect") != wantRedirect {
			t.Errorf("record %d redirect = %q", i, metadata(rec, "redirect"))
		}
		if !strings.HasPrefix(aggregate(rec, telemetry.KeyResponseByStep), fmt.Sprintf("Request 1.%d:", i)) {
			t.Errorf("record %d step value = %q", i, aggregate(rec, telemetry.KeyResponseByStep))
		}
	}
	if s.LastURL() != srv.URL+"/checkout/done" {
		t.Errorf("LastURL() = %q", s.LastURL())
	}
	if s.Header().Get("Connection") != "close" {
		t.Error("303 should keep the connection close header for the session")
	}
}

func TestRedirectLimitIsNotAFailure(t *testing.T) {
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		http.Redirect(w, r, fmt.Sprintf("/loop/%d", count), http.StatusMovedPermanently)
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	resp, err := s.Get(context.Background(), srv.URL+"/loop/0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.Code != http.StatusMovedPermanently {
		t.Errorf("code = %d, want the last redirect", resp.Code)
	}
	if len(sink.records) != 1+session.MaxRedirects {
		t.Errorf("records = %d, want %d", len(sink.records), 1+session.MaxRedirects)
	}
}

func TestLoopModeReplaysWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	const replays = 3
	s, sink := newSession(t, session.Config{LoopSteps: "2:4", LoopNumber: replays})
	for i := 1; i <= 4; i++ {
		if _, err := s.Get(context.Background(), fmt.Sprintf("%s/page%d", srv.URL, i)); err != nil {
			t.Fatalf("Get(page%d) error = %v", i, err)
		}
	}

	if len(sink.records) != 4+replays*2 {
		t.Fatalf("records = %d, want %d", len(sink.records), 4+replays*2)
	}
	for i := 0; i < replays*2; i++ {
		want := fmt.Sprintf("%s/page%d", srv.URL, 2+i%2)
		if got := metadata(sink.records[3+i], "url"); got != want {
			t.Errorf("replayed record %d url = %q, want %q", i, got, want)
		}
	}
	if got := metadata(sink.records[len(sink.records)-1], "url"); got != srv.URL+"/page4" {
		t.Errorf("last record url = %q", got)
	}
	if s.Steps() != 4+replays*2 {
		t.Errorf("steps = %d", s.Steps())
	}
	if s.LastLoop().Pages != replays*2 {
		t.Errorf("LastLoop().Pages = %d", s.LastLoop().Pages)
	}
}

func TestParseLoopSteps(t *testing.T) {
	tests := []struct {
		in          string
		first, last int
		wantErr     bool
	}{
		{"2:4", 2, 3, false},
		{"3", 3, 3, false},
		{" 1 : 2 ", 1, 1, false},
		{"4:4", 0, 0, true},
		{"a:3", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		first, last, err := session.ParseLoopSteps(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLoopSteps(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if first != tt.first || last != tt.last {
			t.Errorf("ParseLoopSteps(%q) = %d, %d; want %d, %d", tt.in, first, last, tt.first, tt.last)
		}
	}
}

func TestUnexpectedStatusIsRecordedAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reason", "gone")
		w.WriteHeader(http.StatusGone)
		w.Write([]byte("no more"))
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	_, err := s.Get(context.Background(), srv.URL+"/old", session.WithDescription("Old page"))
	var failure *session.AssertionFailure
	if !errors.As(err, &failure) || failure.Code != http.StatusGone {
		t.Fatalf("expected assertion failure 410, got %v", err)
	}
	rec := sink.records[0]
	if rec.Outcome != telemetry.Failure {
		t.Errorf("outcome = %s", rec.Outcome)
	}
	if rec.Failure.ResponseCode != "410" || rec.Failure.Body != "no more" || !strings.Contains(rec.Failure.Headers, "X-Reason: gone") {
		t.Errorf("failure payload = %+v", rec.Failure)
	}
	if got := aggregate(rec, telemetry.KeyResponseByDescription); got != "get "+srv.URL+"/old: Old page" {
		t.Errorf("description value = %q", got)
	}
}

func TestTransportErrorIsRecordedAsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	s, sink := newSession(t, session.Config{Timeout: time.Second})
	_, err := s.Get(context.Background(), target)
	var transport *session.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	rec := sink.records[0]
	if rec.Outcome != telemetry.Error || !strings.HasPrefix(rec.Failure.Traceback, "Transport error:") {
		t.Errorf("record = %s %q", rec.Outcome, rec.Failure.Traceback)
	}
}

const shopPage = `<html><head><base href="/static/">
<link rel="stylesheet" href="site.css"></head>
<body><img src="logo.png"><img src="missing.png">
<a href="/item/1">First item</a><a href="/item/2"><img src="logo.png"></a><a href="/cart">Cart</a>
</body></html>`

func TestAutoLinksAreLoadedOnce(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(shopPage))
		case "/static/missing.png":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte("x"))
		}
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{AcceptInvalidLinks: true})
	for i := 0; i < 2; i++ {
		if _, err := s.Get(context.Background(), srv.URL+"/"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	for _, path := range []string{"/static/site.css", "/static/logo.png", "/static/missing.png"} {
		if hits[path] != 1 {
			t.Errorf("%s fetched %d times, want 1", path, hits[path])
		}
	}
	if len(sink.records) != 5 {
		t.Fatalf("records = %d, want 2 pages and 3 links", len(sink.records))
	}
	link := sink.records[1]
	if metadata(link, "rtype") != "link" || !strings.HasPrefix(aggregate(link, telemetry.KeyResponseByStep), "Request 1.1: link ") {
		t.Errorf("unexpected link record %+v", link.Aggregates)
	}
	if aggregate(link, telemetry.KeyPage) != "" {
		t.Error("embedded resources should not feed the Page dimension")
	}

	hrefs, err := s.ListHref(`/item/`, "")
	if err != nil || strings.Join(hrefs, ",") != "/item/1,/item/2" {
		t.Errorf("ListHref = %v, %v", hrefs, err)
	}
	hrefs, _ = s.ListHref("", "item")
	if strings.Join(hrefs, ",") != "/item/1" {
		t.Errorf("ListHref by content = %v", hrefs)
	}
	if s.LastBaseURL() != "/static/" {
		t.Errorf("LastBaseURL() = %q", s.LastBaseURL())
	}
}

func TestInvalidAutoLinkFailsStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><img src="/broken.gif"></body></html>`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, _ := newSession(t, session.Config{})
	_, err := s.Get(context.Background(), srv.URL+"/")
	var failure *session.AssertionFailure
	if !errors.As(err, &failure) || failure.Code != http.StatusNotFound {
		t.Fatalf("expected failing link, got %v", err)
	}

	simple, sink := newSession(t, session.Config{SimpleFetch: true})
	if _, err := simple.Get(context.Background(), srv.URL+"/"); err != nil {
		t.Fatalf("simple fetch should skip links, got %v", err)
	}
	if len(sink.records) != 1 {
		t.Errorf("records = %d, want 1", len(sink.records))
	}
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/here":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<img src="/never-fetched.png">`))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	tests := []struct {
		path    string
		want    bool
		wantErr bool
	}{
		{"/here", true, false},
		{"/nothing", false, false},
		{"/busy", false, false},
		{"/broken", false, true},
	}
	for _, tt := range tests {
		got, err := s.Exists(context.Background(), srv.URL+tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Exists(%s) = %v, %v; want %v, err %v", tt.path, got, err, tt.want, tt.wantErr)
		}
	}
	if len(sink.records) != len(tests) {
		t.Errorf("records = %d, want one per call without links", len(sink.records))
	}
}

func TestWaitUntilAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	if err := s.WaitUntilAvailable(context.Background(), srv.URL, time.Second, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitUntilAvailable() error = %v", err)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	target := down.URL
	down.Close()
	start := time.Now()
	err := s.WaitUntilAvailable(context.Background(), target, 50*time.Millisecond, 10*time.Millisecond)
	var failure *session.AssertionFailure
	if !errors.As(err, &failure) || !strings.Contains(failure.Message, "not available") {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("gave up before the timeout")
	}
	if len(sink.records) != 0 {
		t.Errorf("polls should not be recorded, got %d records", len(sink.records))
	}
}

func TestXMLRPCCallIsRecorded(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><int>7</int></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	s, sink := newSession(t, session.Config{})
	s.SetBasicAuth("admin", "secret")
	reply, err := s.XMLRPC(context.Background(), srv.URL+"/RPC2", "count", []interface{}{"items"}, "Count items")
	if err != nil {
		t.Fatalf("XMLRPC() error = %v", err)
	}
	if fmt.Sprint(reply) != "7" {
		t.Errorf("reply = %v", reply)
	}
	if gotUser != "admin" {
		t.Errorf("basic auth user = %q", gotUser)
	}
	rec := sink.records[0]
	wantURL := srv.URL + "/RPC2#count"
	if metadata(rec, "url") != wantURL || metadata(rec, "rtype") != "xmlrpc" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
	if aggregate(rec, telemetry.KeyResponseByStep) != "Request 1.0: xmlrpc - "+wantURL {
		t.Errorf("step value = %q", aggregate(rec, telemetry.KeyResponseByStep))
	}
	if aggregate(rec, telemetry.KeyPage) != "xmlrpc "+wantURL+": Count items" {
		t.Errorf("page value = %q", aggregate(rec, telemetry.KeyPage))
	}
}

func TestHeadersAndReferer(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	s, _ := newSession(t, session.Config{UserAgent: "shopper/1.0"})
	if err := s.AddHeader("x-tenant", "blue"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), srv.URL+"/a", session.WithParams(httpclient.Param{Key: "q", Value: "shoes"})); err != nil {
		t.Fatal(err)
	}
	if got.Get("User-Agent") != "shopper/1.0" || got.Get("X-Tenant") != "blue" || got.Get("Referer") != "" {
		t.Errorf("first request headers = %v", got)
	}

	if err := s.SetHeader("X-Tenant", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Head(context.Background(), srv.URL+"/b"); err != nil {
		t.Fatal(err)
	}
	if got.Get("Referer") != srv.URL+"/a?q=shoes" || got.Get("X-Tenant") != "" {
		t.Errorf("second request headers = %v", got)
	}
	if _, err := s.Get(context.Background(), srv.URL+"/c"); err != nil {
		t.Fatal(err)
	}
	if got.Get("Referer") != srv.URL+"/a?q=shoes" {
		t.Errorf("HEAD must not become the referer, got %q", got.Get("Referer"))
	}

	if err := s.ClearContext(); err != nil {
		t.Fatal(err)
	}
	if s.Steps() != 0 || len(s.History()) != 0 || s.Header().Get("Referer") != "" {
		t.Error("ClearContext should reset the session")
	}
	if s.Header().Get("User-Agent") != "shopper/1.0" {
		t.Error("ClearContext should restore the user agent")
	}
}

func TestPropfindSendsDepth(t *testing.T) {
	var depth, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		depth, method = r.Header.Get("Depth"), r.Method
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer srv.Close()

	s, _ := newSession(t, session.Config{})
	if _, err := s.Propfind(context.Background(), srv.URL+"/dav/", 1); err != nil {
		t.Fatalf("Propfind() error = %v", err)
	}
	if method != "PROPFIND" || depth != "1" {
		t.Errorf("got %s with depth %q", method, depth)
	}
	if s.Header().Get("Depth") != "" {
		t.Error("depth header should not outlive the call")
	}
}

func TestThinkTimeHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s, _ := newSession(t, session.Config{SleepMin: time.Hour, SleepMax: 2 * time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the sleep to stop with the context, got %v", err)
	}
}

func TestPauseWaitsForEnter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var prompt strings.Builder
	s, _ := newSession(t, session.Config{Pause: true, PauseInput: strings.NewReader("\n\n"), PauseOutput: &prompt, SleepMin: time.Hour})
	for i := 0; i < 2; i++ {
		if _, err := s.Get(context.Background(), srv.URL); err != nil {
			t.Fatal(err)
		}
	}
	if strings.Count(prompt.String(), "Press ENTER") != 2 {
		t.Errorf("prompt = %q", prompt.String())
	}
}

func TestAddMetadataWritesConfig(t *testing.T) {
	s, sink := newSession(t, session.Config{})
	if err := s.AddMetadata("dataset", "small"); err != nil {
		t.Fatal(err)
	}
	if len(sink.config) != 1 || sink.config[0].Value != "small" {
		t.Errorf("config = %+v", sink.config)
	}
}
