// Package variables holds the values a virtual user extracts or reads from
// its data feed, and expands {{name}} placeholders with them.
package variables

import (
	"context"
	"maps"
	"regexp"
)

// Store is the variable scope of one virtual user.
type Store interface {
	Set(key, value string)
	// Get returns the value of key and whether it is set.
	Get(key string) (string, bool)
	GetAll() map[string]string
	// SetRecord replaces the current data feed record. Stored variables take
	// precedence over record fields.
	SetRecord(record map[string]string)
	// Expand replaces {{name}} and {{name|default}} placeholders.
	Expand(template string) string
	Clear()
}

// MemoryStore is a map backed Store. It is owned by a single worker and is
// not safe for concurrent use.
type MemoryStore struct {
	variables map[string]string
	record    map[string]string
}

// NewStore returns an empty MemoryStore.
func NewStore() Store {
	return &MemoryStore{variables: make(map[string]string)}
}

func (m *MemoryStore) Set(key, value string) {
	m.variables[key] = value
}

func (m *MemoryStore) Get(key string) (string, bool) {
	if v, ok := m.variables[key]; ok {
		return v, true
	}
	v, ok := m.record[key]
	return v, ok
}

// GetAll returns the record fields overlaid with the stored variables.
func (m *MemoryStore) GetAll() map[string]string {
	out := make(map[string]string, len(m.variables)+len(m.record))
	maps.Copy(out, m.record)
	maps.Copy(out, m.variables)
	return out
}

func (m *MemoryStore) SetRecord(record map[string]string) {
	m.record = maps.Clone(record)
}

var placeholder = regexp.MustCompile(`\{\{\s*([^}|\s]+)\s*(\|([^}]*))?\}\}`)

// Expand resolves each placeholder from the store, then from the default
// after "|". Unknown placeholders without a default are left unchanged.
func (m *MemoryStore) Expand(template string) string {
	return Expand(template, m.Get)
}

// Clear drops stored variables and the current record.
func (m *MemoryStore) Clear() {
	m.variables = make(map[string]string)
	m.record = nil
}

// Expand replaces placeholders in template using lookup.
func Expand(template string, lookup func(string) (string, bool)) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		if v, ok := lookup(parts[1]); ok {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

type contextKey struct{}

// FromContext returns the store attached to ctx, or nil.
func FromContext(ctx context.Context) Store {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(contextKey{}).(Store)
	return s
}

// NewContext attaches store to ctx.
func NewContext(ctx context.Context, store Store) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, store)
}
