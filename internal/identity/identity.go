// Package identity maps the signed-in user onto the part they play in a call.
package identity

import (
	"errors"
	"fmt"

	"github.com/rehaani/mediconnect/internal/call"
)

type Role string

const (
	Provider Role = "provider"
	Patient  Role = "patient"
	Admin    Role = "admin"
)

var ErrNoCallRole = errors.New("role cannot take part in calls")

// Identity is the current user as reported by the identity provider.
type Identity struct {
	ID   string
	Role Role
}

// ParseRole accepts the role names used in configuration.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case Provider, Patient, Admin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CallRole reports which side of the handshake the user performs. Providers
// open consultations, patients join them.
func (id Identity) CallRole() (call.Role, error) {
	switch id.Role {
	case Provider:
		return call.RoleOfferer, nil
	case Patient:
		return call.RoleAnswerer, nil
	}
	return "", fmt.Errorf("%s: %w", id.Role, ErrNoCallRole)
}

// Landing is the dashboard a user returns to when a call ends.
func (id Identity) Landing() string {
	switch id.Role {
	case Provider:
		return "/provider/dashboard"
	case Patient:
		return "/patient/dashboard"
	case Admin:
		return "/admin/dashboard"
	}
	return "/"
}
