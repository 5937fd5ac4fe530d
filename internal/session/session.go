// Package session simulates one browsing virtual user. Every network call is
// recorded through a recorder.Recorder, redirects and embedded resources are
// fetched the way a browser would, and think time is applied between pages.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/recorder"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "crankbench"

// DefaultOKCodes are the status codes accepted when a call names none.
var DefaultOKCodes = []int{200, 301, 302, 303, 307}

// Fetcher is the HTTP primitive used by a session.
type Fetcher interface {
	Fetch(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
	CallXMLRPC(ctx context.Context, url, method string, params []interface{}, header http.Header) (interface{}, error)
	ClearCookies()
	SetClientCertificate(certFile, keyFile string) error
}

// MetadataWriter receives extra run configuration entries.
type MetadataWriter interface {
	Config(key, value string) error
}

// Config configures a Session.
type Config struct {
	OKCodes            []int
	SleepMin           time.Duration
	SleepMax           time.Duration
	SimpleFetch        bool
	AcceptInvalidLinks bool
	UserAgent          string

	// LoopSteps selects the steps replayed in loop mode, "start:end" with
	// end excluded or a single step number. Empty disables loop mode.
	LoopSteps  string
	LoopNumber int

	// Pause waits for a line on PauseInput instead of sleeping.
	Pause       bool
	PauseInput  io.Reader
	PauseOutput io.Writer

	Timeout   time.Duration
	CertFile  string
	KeyFile   string
	Propagate bool

	Logger   *zap.Logger
	Metadata MetadataWriter
	// Fetcher replaces the default net/http fetcher.
	Fetcher Fetcher
	// Rand returns a number in [0, 1) used to draw think time.
	Rand func() float64
}

// HistoryEntry is one successful fetch of the session.
type HistoryEntry struct {
	Method string
	URL    string
}

// Session is the browser state of one virtual user. A Session is used by a
// single goroutine.
type Session struct {
	rec     *recorder.Recorder
	fetcher Fetcher
	cfg     Config
	log     *zap.Logger
	rand    func() float64
	pause   *pauser

	header        http.Header
	user, pass    string
	hasAuth       bool
	steps         int
	pageResponses int
	history       []HistoryEntry
	resources     map[string]struct{}

	last    *httpclient.Response
	lastDoc *httpclient.Document

	loop *loopState
}

// New returns a Session recording through rec.
func New(rec *recorder.Recorder, cfg Config) (*Session, error) {
	if rec == nil {
		return nil, fmt.Errorf("session requires a recorder")
	}
	if len(cfg.OKCodes) == 0 {
		cfg.OKCodes = DefaultOKCodes
	}
	if cfg.SleepMax < cfg.SleepMin {
		cfg.SleepMin, cfg.SleepMax = cfg.SleepMax, cfg.SleepMin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		f, err := httpclient.New(httpclient.Options{
			Timeout:   cfg.Timeout,
			CertFile:  cfg.CertFile,
			KeyFile:   cfg.KeyFile,
			Propagate: cfg.Propagate,
		})
		if err != nil {
			return nil, err
		}
		fetcher = f
	}
	s := &Session{
		rec:     rec,
		fetcher: fetcher,
		cfg:     cfg,
		log:     cfg.Logger,
		rand:    cfg.Rand,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.rand == nil {
		s.rand = rand.Float64
	}
	if cfg.Pause {
		in := cfg.PauseInput
		if in == nil {
			in = os.Stdin
		}
		out := cfg.PauseOutput
		if out == nil {
			out = os.Stdout
		}
		s.pause = newPauser(in, out)
	}
	if cfg.LoopSteps != "" {
		first, last, err := ParseLoopSteps(cfg.LoopSteps)
		if err != nil {
			return nil, err
		}
		s.loop = &loopState{first: first, last: last, number: cfg.LoopNumber}
	}
	s.reset()
	return s, nil
}

// Recorder returns the recorder used for every call of the session.
func (s *Session) Recorder() *recorder.Recorder { return s.rec }

// Steps returns the number of top-level operations performed so far.
func (s *Session) Steps() int { return s.steps }

// History returns the successful fetches in order.
func (s *Session) History() []HistoryEntry {
	return append([]HistoryEntry(nil), s.history...)
}

// ClearContext resets the session to a fresh browser: cookies, history,
// headers, credentials, resource cache and step counters.
func (s *Session) ClearContext() error {
	s.fetcher.ClearCookies()
	s.reset()
	return s.ClearKeyAndCertificateFile()
}

func (s *Session) reset() {
	s.header = make(http.Header)
	s.header.Set("User-Agent", s.cfg.UserAgent)
	s.user, s.pass, s.hasAuth = "", "", false
	s.steps = 0
	s.pageResponses = 0
	s.history = nil
	s.resources = make(map[string]struct{})
	s.last = nil
	s.lastDoc = nil
}

// AddHeader adds a header value sent with every following request.
func (s *Session) AddHeader(key, value string) error {
	canonical, err := httpclient.ValidateHeader(key, value)
	if err != nil {
		return err
	}
	s.header.Add(canonical, value)
	return nil
}

// SetHeader sets or replaces a header. An empty value removes it.
func (s *Session) SetHeader(key, value string) error {
	canonical, err := httpclient.ValidateHeader(key, value)
	if err != nil {
		return err
	}
	if value == "" {
		s.header.Del(canonical)
		return nil
	}
	s.header.Set(canonical, value)
	return nil
}

// DelHeader removes a header.
func (s *Session) DelHeader(key string) {
	s.header.Del(key)
}

// ClearHeaders removes every header, including the Referer and the user
// agent.
func (s *Session) ClearHeaders() {
	s.header = make(http.Header)
}

// Header returns a copy of the headers sent with the next request.
func (s *Session) Header() http.Header {
	return s.header.Clone()
}

// SetUserAgent replaces the User-Agent header. An empty agent removes it.
func (s *Session) SetUserAgent(agent string) error {
	return s.SetHeader("User-Agent", agent)
}

// SetBasicAuth sends credentials with every following request, XML-RPC
// calls included.
func (s *Session) SetBasicAuth(user, password string) {
	s.user, s.pass, s.hasAuth = user, password, true
}

// ClearBasicAuth stops sending credentials.
func (s *Session) ClearBasicAuth() {
	s.user, s.pass, s.hasAuth = "", "", false
}

// SetKeyAndCertificateFile presents a TLS client certificate on following
// connections.
func (s *Session) SetKeyAndCertificateFile(keyFile, certFile string) error {
	return s.fetcher.SetClientCertificate(certFile, keyFile)
}

// ClearKeyAndCertificateFile stops presenting a client certificate, falling
// back to the configured one.
func (s *Session) ClearKeyAndCertificateFile() error {
	return s.fetcher.SetClientCertificate(s.cfg.CertFile, s.cfg.KeyFile)
}

// AddMetadata writes an extra configuration entry into the result log.
func (s *Session) AddMetadata(key, value string) error {
	if s.cfg.Metadata == nil {
		return nil
	}
	return s.cfg.Metadata.Config(key, value)
}

func (s *Session) requestHeader() http.Header {
	h := s.header.Clone()
	if s.hasAuth {
		token := base64.StdEncoding.EncodeToString([]byte(s.user + ":" + s.pass))
		h.Set("Authorization", "Basic "+token)
	}
	return h
}

type pauser struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer
	buf []byte
}

func newPauser(in io.Reader, out io.Writer) *pauser {
	return &pauser{in: in, out: out, buf: make([]byte, 1)}
}

// wait blocks until a newline or EOF is read.
func (p *pauser) wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, "Press ENTER to continue ")
	for {
		n, err := p.in.Read(p.buf)
		if n > 0 && p.buf[0] == '\n' {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
