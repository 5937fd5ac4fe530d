package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/feeder"
	"github.com/torosent/crankbench/internal/session"
	"github.com/torosent/crankbench/internal/variables"
)

// File is a scenario described in YAML.
//
//	name: test_shop
//	suite: Shop
//	data: users.csv
//	variables:
//	  base: http://localhost:8080
//	setup:
//	  - method: post
//	    url: "{{base}}/login"
//	    params: {user: "{{user}}", password: "{{password}}"}
//	steps:
//	  - method: get
//	    url: "{{base}}/"
//	    description: Home page
type File struct {
	ScenarioName string            `yaml:"name"`
	Suite        string            `yaml:"suite"`
	Description  string            `yaml:"description"`
	Data         string            `yaml:"data"`
	Rewind       *bool             `yaml:"rewind"`
	Variables    map[string]string `yaml:"variables"`
	Setup        []Step            `yaml:"setup"`
	Steps        []Step            `yaml:"steps"`
	Teardown     []Step            `yaml:"teardown"`

	dir  string
	data feeder.Feeder
	log  *zap.Logger
}

// LoadOption configures a loaded File.
type LoadOption func(*File)

// WithLogger sets the logger of the scenario steps.
func WithLogger(l *zap.Logger) LoadOption {
	return func(f *File) { f.log = l }
}

// Load reads and validates a scenario file. A data file is opened relative
// to the scenario file and shared by every virtual user.
func Load(path string, opts ...LoadOption) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	f, err := Parse(raw, filepath.Dir(path), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a scenario. Relative data paths are resolved against dir.
func Parse(raw []byte, dir string, opts ...LoadOption) (*File, error) {
	f := &File{dir: dir}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	if f.Data != "" {
		path := f.Data
		if !filepath.IsAbs(path) && f.dir != "" {
			path = filepath.Join(f.dir, path)
		}
		rewind := f.Rewind == nil || *f.Rewind
		ds, err := feeder.Open(path, rewind)
		if err != nil {
			return nil, err
		}
		f.data = ds
	}
	return f, nil
}

func (f *File) validate() error {
	var issues []string
	if strings.TrimSpace(f.ScenarioName) == "" {
		issues = append(issues, "name is required")
	}
	if len(f.Steps) == 0 {
		issues = append(issues, "at least one step is required")
	}
	check := func(section string, steps []Step) {
		for i, st := range steps {
			if err := st.validate(); err != nil {
				issues = append(issues, fmt.Sprintf("%s[%d]: %v", section, i, err))
			}
		}
	}
	check("setup", f.Setup)
	check("steps", f.Steps)
	check("teardown", f.Teardown)
	if len(issues) > 0 {
		return errors.New("invalid scenario: " + strings.Join(issues, "; "))
	}
	return nil
}

func (f *File) Name() string { return f.ScenarioName }

func (f *File) SuiteName() string { return f.Suite }

// SetUp draws the next data row, if any, then runs the setup steps.
func (f *File) SetUp(ctx context.Context, s *session.Session) error {
	store := f.store(ctx)
	if f.data != nil {
		rec, err := f.data.Next(ctx)
		if err != nil {
			return err
		}
		store.SetRecord(rec)
	}
	return f.runSteps(ctx, s, store, f.Setup)
}

// Run executes the main steps.
func (f *File) Run(ctx context.Context, s *session.Session) error {
	return f.runSteps(ctx, s, f.store(ctx), f.Steps)
}

// TearDown executes the teardown steps.
func (f *File) TearDown(ctx context.Context, s *session.Session) error {
	return f.runSteps(ctx, s, f.store(ctx), f.Teardown)
}

// Close releases the data file.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	return f.data.Close()
}

// store returns the worker store from ctx, seeded with the file variables
// that are not set yet.
func (f *File) store(ctx context.Context) variables.Store {
	store := variables.FromContext(ctx)
	if store == nil {
		store = variables.NewStore()
	}
	for k, v := range f.Variables {
		if _, ok := store.Get(k); !ok {
			store.Set(k, v)
		}
	}
	return store
}

func (f *File) runSteps(ctx context.Context, s *session.Session, store variables.Store, steps []Step) error {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := steps[i].run(ctx, s, store, f.dir, f.log); err != nil {
			return err
		}
	}
	return nil
}
