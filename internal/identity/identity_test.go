package identity

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewUserIDIsValid(t *testing.T) {
	a, b := NewUserID(), NewUserID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !IsValidUserID(a) {
		t.Errorf("generated id %q should be valid", a)
	}
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"abc-123", true},
		{"has space", false},
		{"<script>", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		if got := IsValidUserID(tt.id); got != tt.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	got, err := NormalizeName("  Alice  ")
	if err != nil || got != "Alice" {
		t.Fatalf("NormalizeName = %q, %v", got, err)
	}
	if _, err := NormalizeName("   "); !errors.Is(err, ErrNameEmpty) {
		t.Errorf("expected ErrNameEmpty, got %v", err)
	}
	if _, err := NormalizeName(strings.Repeat("x", MaxNameLength+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("expected ErrNameTooLong, got %v", err)
	}
}

func TestAdminCredentialPlain(t *testing.T) {
	cred, err := NewAdminCredential("s3cret", "")
	if err != nil {
		t.Fatalf("NewAdminCredential: %v", err)
	}
	if !cred.Verify("s3cret") {
		t.Error("expected correct password to verify")
	}
	if cred.Verify("wrong") || cred.Verify("") {
		t.Error("expected wrong or empty password to fail")
	}
}

func TestAdminCredentialHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	cred, err := NewAdminCredential("ignored", string(hash))
	if err != nil {
		t.Fatalf("NewAdminCredential: %v", err)
	}
	if !cred.Verify("s3cret") {
		t.Error("expected hashed password to verify")
	}
	if cred.Verify("ignored") {
		t.Error("plain password must be ignored when a hash is configured")
	}
}

func TestAdminCredentialRequiresSecret(t *testing.T) {
	if _, err := NewAdminCredential("", ""); err == nil {
		t.Error("expected error without password or hash")
	}
	if _, err := NewAdminCredential("", "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(r); got != "10.0.0.7" {
		t.Errorf("IPFromRequest = %q", got)
	}
}
