package validation

import (
	"strings"
	"testing"
)

func TestRequired(t *testing.T) {
	v := Violations{}
	Required("title", "   ", v)
	Required("content", "ok", v)
	if _, ok := v["title"]; !ok {
		t.Error("blank title should be rejected")
	}
	if _, ok := v["content"]; ok {
		t.Error("content should pass")
	}
}

func TestMaxLength_CountsRunes(t *testing.T) {
	v := Violations{}
	MaxLength("title", strings.Repeat("é", 100), 100, v)
	if !v.Empty() {
		t.Fatalf("100 runes should pass: %v", v)
	}
	MaxLength("title", strings.Repeat("a", 101), 100, v)
	if !strings.Contains(v["title"], "100") {
		t.Fatalf("unexpected message %q", v["title"])
	}
}

func TestAdd_KeepsFirst(t *testing.T) {
	v := Violations{}
	v.Add("f", "first")
	v.Add("f", "second")
	if v["f"] != "first" {
		t.Errorf("got %q", v["f"])
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"", true},
		{"a@example.com", true},
		{"not-an-email", false},
		{"Bob <bob@example.com>", false},
	}
	for _, tt := range tests {
		v := Violations{}
		Email("email", tt.in, v)
		if v.Empty() != tt.ok {
			t.Errorf("Email(%q) ok=%v, want %v", tt.in, v.Empty(), tt.ok)
		}
	}
}

func TestUsername(t *testing.T) {
	for _, ok := range []string{"alice", "bob.smith", "a+b@c-d_e"} {
		v := Violations{}
		Username("username", ok, v)
		if !v.Empty() {
			t.Errorf("%q should be valid", ok)
		}
	}
	v := Violations{}
	Username("username", "bad name", v)
	if v.Empty() {
		t.Error("space should be rejected")
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name, pw, confirm, field string
	}{
		{"mismatch", "Secret123!", "Secret123?", "password2"},
		{"short", "abc", "abc", "password1"},
		{"numeric", "12345678901", "12345678901", "password1"},
		{"ok", "Secret123!", "Secret123!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Violations{}
			Password("password1", "password2", tt.pw, tt.confirm, v)
			if tt.field == "" {
				if !v.Empty() {
					t.Fatalf("unexpected violations %v", v)
				}
				return
			}
			if _, ok := v[tt.field]; !ok {
				t.Fatalf("expected violation on %s, got %v", tt.field, v)
			}
		})
	}
}
