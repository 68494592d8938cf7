package identity

import (
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "User@Example.COM", want: "user@example.com"},
		{in: "  padded@example.com \n", want: "padded@example.com"},
		{in: "already@example.com", want: "already@example.com"},
		{in: "", want: ""},
	}

	for _, tc := range tests {
		got := NormalizeEmail(tc.in)
		if got != tc.want {
			t.Fatalf("NormalizeEmail(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewULID_Format(t *testing.T) {
	id, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected 26-char ULID, got %q (%d)", id, len(id))
	}
}
