package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RejectsBadInput(t *testing.T) {
	err := Run("", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDAUTH_DATABASE_URL")

	for _, dir := range []string{"", "UP", "sideways"} {
		err := Run("postgres://localhost/medauth", dir)
		require.Error(t, err, "direction %q", dir)
		assert.Contains(t, err.Error(), "direction")
	}
}

func TestMigrations_ArePaired(t *testing.T) {
	entries, err := MigrationFS.ReadDir("migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestSchemaSQL_RenamesSchema(t *testing.T) {
	sql, err := SchemaSQL("medauth_it_x")
	require.NoError(t, err)

	assert.Contains(t, sql, `"medauth_it_x".users`)
	assert.Contains(t, sql, `"medauth_it_x".sessions`)
	assert.Contains(t, sql, `CREATE SCHEMA IF NOT EXISTS "medauth_it_x";`)
	assert.NotContains(t, sql, "medauth.users")
}
