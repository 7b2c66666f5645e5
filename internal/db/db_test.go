package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.value
	return nil
}

type mockMigrator struct {
	existing map[string]bool
	rowErr   error
	execs    []string
}

func (m *mockMigrator) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (m *mockMigrator) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	table, _ := args[0].(string)
	return boolRow{value: m.existing[table], err: m.rowErr}
}

func TestMigrate_AppliesSchemaWhenExternalTablesExist(t *testing.T) {
	m := &mockMigrator{existing: map[string]bool{"chat_rooms": true, "business": true, "member": true}}

	if err := Migrate(context.Background(), m); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(m.execs) != 1 || !strings.Contains(m.execs[0], "CREATE TABLE IF NOT EXISTS chat_messages") {
		t.Fatalf("expected schema to be applied once, got %d execs", len(m.execs))
	}
}

func TestMigrate_FailsOnFreshDatabase(t *testing.T) {
	m := &mockMigrator{existing: map[string]bool{"chat_rooms": true}}

	err := Migrate(context.Background(), m)
	if !errors.Is(err, ErrMissingTables) {
		t.Fatalf("expected ErrMissingTables, got %v", err)
	}
	if !strings.Contains(err.Error(), "business, member") {
		t.Fatalf("expected missing tables in error, got %q", err.Error())
	}
	if len(m.execs) != 0 {
		t.Fatalf("expected schema not to be applied")
	}
}

func TestMigrate_CheckError(t *testing.T) {
	m := &mockMigrator{rowErr: errors.New("connection refused")}

	if err := Migrate(context.Background(), m); err == nil || len(m.execs) != 0 {
		t.Fatalf("expected check error without applying schema, got %v", err)
	}
}
