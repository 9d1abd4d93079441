// Package identity provides per-device participant identity primitives.
package identity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MaxNameLength bounds display names, in runes.
const MaxNameLength = 64

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

var (
	ErrNameEmpty   = errors.New("name is required")
	ErrNameTooLong = fmt.Errorf("name exceeds %d characters", MaxNameLength)
)

// NewUserID returns a fresh identifier for a device that has none yet.
func NewUserID() string {
	return uuid.NewString()
}

// IsValidUserID reports whether id is acceptable as a stable identity.
func IsValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// NormalizeName trims a requested display name and validates it.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// AdminCredential verifies the password for the reserved admin name.
type AdminCredential struct {
	plain []byte
	hash  []byte
}

// NewAdminCredential builds a credential from a bcrypt hash or, when hash is
// empty, from a plain password. At least one must be set.
func NewAdminCredential(plain, hash string) (*AdminCredential, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid admin password hash: %w", err)
		}
		return &AdminCredential{hash: []byte(hash)}, nil
	}
	if plain == "" {
		return nil, errors.New("admin password is not configured")
	}
	return &AdminCredential{plain: []byte(plain)}, nil
}

// Verify reports whether password matches.
func (c *AdminCredential) Verify(password string) bool {
	if c == nil || password == "" {
		return false
	}
	if c.hash != nil {
		return bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare(c.plain, []byte(password)) == 1
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
