package variables

import (
	"context"
	"testing"
)

func TestMemoryStoreVariablesOverrideRecord(t *testing.T) {
	store := NewStore()
	store.SetRecord(map[string]string{"user": "alice", "password": "secret"})
	store.Set("user", "bob")

	if v, _ := store.Get("user"); v != "bob" {
		t.Errorf("Get(user) = %q, want the stored variable", v)
	}
	if v, ok := store.Get("password"); !ok || v != "secret" {
		t.Errorf("Get(password) = %q, %v", v, ok)
	}
	if _, ok := store.Get("missing"); ok {
		t.Error("missing key should not be found")
	}
	all := store.GetAll()
	if len(all) != 2 || all["user"] != "bob" {
		t.Errorf("GetAll() = %v", all)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewStore()
	store.Set("token", "abc")
	store.SetRecord(map[string]string{"user": "alice"})
	store.Clear()
	if len(store.GetAll()) != 0 {
		t.Errorf("GetAll() after Clear = %v", store.GetAll())
	}
}

func TestExpand(t *testing.T) {
	store := NewStore()
	store.Set("host", "shop.local")
	store.Set("id", "42")
	store.SetRecord(map[string]string{"user": "alice"})

	tests := []struct {
		in, want string
	}{
		{"http://{{host}}/item/{{id}}", "http://shop.local/item/42"},
		{"{{ user }}", "alice"},
		{"{{lang|en}}", "en"},
		{"{{lang|}}x", "x"},
		{"{{unknown}}", "{{unknown}}"},
		{"{{id|7}}", "42"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		if got := store.Expand(tt.in); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected no store in a bare context")
	}
	store := NewStore()
	ctx := NewContext(context.Background(), store)
	if FromContext(ctx) != store {
		t.Error("store not found in context")
	}
}
