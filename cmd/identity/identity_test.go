package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"  Alice@X.io ":  "alice@x.io",
		"ＡＬＩＣＥ@x.io":     "alice@x.io",
		"":               "",
		"bob@example.com": "bob@example.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeEmail(in), "input %q", in)
	}
}

func TestNormalizeFullName(t *testing.T) {
	assert.Equal(t, "Alice Doe", NormalizeFullName("  Alice \t  Doe "))
	assert.Equal(t, "", NormalizeFullName("   "))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"PATIENT": RolePatient,
		"doctor":  RoleDoctor,
		" Admin ": RoleAdmin,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "nurse", "ADMINS"} {
		_, err := ParseRole(bad)
		assert.True(t, IsInvalidInput(err), "ParseRole(%q) = %v", bad, err)
	}
}

func TestNewULID_MonotonicWithinMillisecond(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	prev := ""
	for i := 0; i < 50; i++ {
		id, err := NewULID(now)
		require.NoError(t, err)
		require.Len(t, id, 26)
		require.True(t, ValidULID(id))
		require.Greater(t, id, prev)
		prev = id
	}
	assert.False(t, ValidULID("not-a-ulid"))
}

func TestErrors_Classification(t *testing.T) {
	err := error(ConflictError{Op: "identity.CreateUser", Field: "email"})
	assert.True(t, IsConflict(err, "email"))
	assert.True(t, IsConflict(err, ""))
	assert.False(t, IsConflict(err, "id"))
	assert.ErrorIs(t, err, ErrConflict)

	nf := userNotFound("identity.GetUserByID")
	assert.True(t, IsNotFound(nf))
	assert.Contains(t, nf.Error(), "identity.GetUserByID")
}
