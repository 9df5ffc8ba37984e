package identity

import (
	"testing"

	"github.com/rehaani/mediconnect/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRole(t *testing.T) {
	r, err := Identity{ID: "u1", Role: Provider}.CallRole()
	require.NoError(t, err)
	assert.Equal(t, call.RoleOfferer, r)

	r, err = Identity{ID: "u2", Role: Patient}.CallRole()
	require.NoError(t, err)
	assert.Equal(t, call.RoleAnswerer, r)

	_, err = Identity{ID: "u3", Role: Admin}.CallRole()
	assert.ErrorIs(t, err, ErrNoCallRole)
}

func TestLanding(t *testing.T) {
	assert.Equal(t, "/provider/dashboard", Identity{Role: Provider}.Landing())
	assert.Equal(t, "/patient/dashboard", Identity{Role: Patient}.Landing())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("patient")
	require.NoError(t, err)
	assert.Equal(t, Patient, r)

	_, err = ParseRole("nurse")
	assert.Error(t, err)
}
