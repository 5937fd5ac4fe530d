package har

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/crankbench/internal/scenario"
)

const shopHAR = `{
  "log": {
    "version": "1.2",
    "pages": [{"id": "page_1", "title": "Shop home"}],
    "entries": [
      {"pageref": "page_1",
       "request": {"method": "GET", "url": "https://shop.example.com/",
         "headers": [{"name": "Accept", "value": "text/html"}, {"name": "Cookie", "value": "sid=1"}, {"name": ":authority", "value": "shop.example.com"}]},
       "response": {"status": 200}},
      {"pageref": "page_1",
       "request": {"method": "GET", "url": "https://shop.example.com/static/app.js"},
       "response": {"status": 200}},
      {"request": {"method": "POST", "url": "https://shop.example.com/login",
         "postData": {"mimeType": "application/x-www-form-urlencoded", "params": [{"name": "user", "value": "bob"}, {"name": "password", "value": "s3cret"}]}},
       "response": {"status": 302, "redirectURL": "/account"}},
      {"request": {"method": "GET", "url": "https://shop.example.com/account"},
       "response": {"status": 200}},
      {"request": {"method": "GET", "url": "https://cdn.example.net/banner?id=3"},
       "response": {"status": 200}},
      {"request": {"method": "GET", "url": "https://shop.example.com/missing"},
       "response": {"status": 404}}
    ]
  }
}`

func TestParse(t *testing.T) {
	h, err := Parse(strings.NewReader(shopHAR))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if h.Log.Version != "1.2" || len(h.Log.Entries) != 6 {
		t.Errorf("log = %+v", h.Log)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"invalid json", "{"},
		{"missing log", `{"other": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.har")
	if err := os.WriteFile(path, []byte(shopHAR), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(path); err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.har")); err == nil {
		t.Error("ParseFile() of a missing file should fail")
	}
}

func TestConvert(t *testing.T) {
	h, err := Parse(strings.NewReader(shopHAR))
	if err != nil {
		t.Fatal(err)
	}
	sc, err := Convert(h, DefaultOptions("shop"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if sc.Variables[BaseURLVariable] != "https://shop.example.com" {
		t.Errorf("variables = %v", sc.Variables)
	}

	want := []struct {
		method, url, description string
	}{
		{"get", "{{url}}/", "Shop home"},
		{"post", "{{url}}/login", "POST /login"},
		{"get", "https://cdn.example.net/banner?id=3", "GET /banner"},
		{"get", "{{url}}/missing", "GET /missing"},
	}
	if len(sc.Steps) != len(want) {
		t.Fatalf("steps = %+v", sc.Steps)
	}
	for i, w := range want {
		st := sc.Steps[i]
		if st.Method != w.method || st.URL != w.url || st.Description != w.description {
			t.Errorf("step %d = %+v, want %+v", i, st, w)
		}
	}

	home := sc.Steps[0]
	if len(home.Headers) != 1 || home.Headers["Accept"] != "text/html" {
		t.Errorf("headers = %v, want only Accept", home.Headers)
	}
	login := sc.Steps[1]
	if login.Body != "password=s3cret&user=bob" || login.ContentType != "application/x-www-form-urlencoded" {
		t.Errorf("login body = %q %q", login.Body, login.ContentType)
	}
	if got := sc.Steps[3].OKCodes; len(got) != 1 || got[0] != 404 {
		t.Errorf("ok codes = %v", got)
	}
}

func TestConvertFilters(t *testing.T) {
	h, err := Parse(strings.NewReader(shopHAR))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		opts  Options
		steps int
	}{
		{"include host", Options{Name: "x", IncludeHosts: []string{"cdn.example.net"}}, 1},
		{"exclude host", Options{Name: "x", ExcludeHosts: []string{"cdn.example.net"}, ExcludeStatic: true}, 3},
		{"methods", Options{Name: "x", IncludeMethods: []string{"post"}}, 1},
		{"static kept", Options{Name: "x"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := Convert(h, tt.opts)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if len(sc.Steps) != tt.steps {
				t.Errorf("steps = %d, want %d", len(sc.Steps), tt.steps)
			}
			if !tt.opts.IncludeHeaders && sc.Steps[0].Headers != nil {
				t.Error("headers recorded while disabled")
			}
		})
	}

	if _, err := Convert(h, Options{Name: "x", IncludeMethods: []string{"DELETE"}}); err == nil {
		t.Error("Convert() with nothing left should fail")
	}
	if _, err := Convert(h, Options{}); err == nil {
		t.Error("Convert() without a name should fail")
	}
	if _, err := Convert(&HAR{}, DefaultOptions("x")); err == nil {
		t.Error("Convert() without a log should fail")
	}
}

func TestMarshalLoadsAsScenario(t *testing.T) {
	h, err := Parse(strings.NewReader(shopHAR))
	if err != nil {
		t.Fatal(err)
	}
	sc, err := Convert(h, DefaultOptions("shop"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := sc.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	f, err := scenario.Parse(data, "")
	if err != nil {
		t.Fatalf("scenario.Parse() error = %v\n%s", err, data)
	}
	if f.Name() != "shop" || len(f.Steps) != 4 || f.Variables["url"] != "https://shop.example.com" {
		t.Errorf("scenario = %+v", f)
	}
	if f.Steps[1].Body != "password=s3cret&user=bob" || f.Steps[3].OKCodes[0] != 404 {
		t.Errorf("steps = %+v", f.Steps)
	}
}
