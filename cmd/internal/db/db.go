// Package db embeds medauth's SQL migrations and applies them with golang-migrate.
package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var MigrationFS embed.FS

// SchemaName is the schema every migration writes to.
const SchemaName = "medauth"

// ErrNoChange is returned by golang-migrate when already at the target version.
// Run swallows it.
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations in direction ("up" or "down") against dsn.
func Run(dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("MEDAUTH_DATABASE_URL is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// SchemaSQL concatenates the up migrations with the medauth schema renamed to
// schema. Integration tests use it to build an isolated schema per test.
func SchemaSQL(schema string) (string, error) {
	names, err := fs.Glob(MigrationFS, "migrations/*.up.sql")
	if err != nil {
		return "", err
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		raw, err := MigrationFS.ReadFile(name)
		if err != nil {
			return "", err
		}
		sql := strings.ReplaceAll(string(raw), SchemaName+".", `"`+schema+`".`)
		sql = strings.ReplaceAll(sql, "SCHEMA IF NOT EXISTS "+SchemaName+";", `SCHEMA IF NOT EXISTS "`+schema+`";`)
		b.WriteString(sql)
		b.WriteString("\n")
	}
	return b.String(), nil
}
