package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	stored, err := HashPassword("hunter2")
	require.NoError(t, err)

	saltHex, dkHex, ok := strings.Cut(stored, ":")
	require.True(t, ok)
	assert.Len(t, saltHex, pbkdf2SaltLen*2)
	assert.Len(t, dkHex, pbkdf2KeyLen*2)

	assert.True(t, VerifyPassword("hunter2", stored))
	assert.False(t, VerifyPassword("hunter3", stored))
	assert.False(t, VerifyPassword("", stored))
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, VerifyPassword("same", a))
	assert.True(t, VerifyPassword("same", b))
}

func TestVerifyPasswordRejectsMalformedStored(t *testing.T) {
	assert.False(t, VerifyPassword("x", ""))
	assert.False(t, VerifyPassword("x", "no-separator"))
	assert.False(t, VerifyPassword("x", "nothex:abcd"))
	assert.False(t, VerifyPassword("x", "abcd:nothex"))
}

func TestTempPassword(t *testing.T) {
	var u User
	require.NoError(t, u.SetPassword("primary"))
	assert.False(t, u.CheckTempPassword("anything"))

	tmp, err := HashPassword("one-shot")
	require.NoError(t, err)
	u.TempPasswordHash = tmp
	assert.True(t, u.CheckTempPassword("one-shot"))
	assert.False(t, u.CheckTempPassword("primary"))
	assert.True(t, u.CheckPassword("primary"))
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, (&User{Role: RoleAdmin}).IsAdmin())
	assert.True(t, (&User{Role: RoleAdmin}).IsPublisher())
	assert.True(t, (&User{Role: RolePublisher}).IsPublisher())
	assert.False(t, (&User{Role: RolePublisher}).IsAdmin())
	assert.False(t, (&User{Role: RoleUser}).IsPublisher())
}
