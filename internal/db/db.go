package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomit/internal/config"
)

//go:embed schema.sql
var schema string

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Configuración razonable para ambientes iniciales.
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// ExternalTables son las tablas que el esquema referencia y que crea el servicio principal.
var ExternalTables = []string{"chat_rooms", "business", "member"}

// ErrMissingTables indica que faltan tablas externas y el esquema no puede aplicarse.
var ErrMissingTables = errors.New("missing external tables")

// Migrator es lo mínimo que Migrate necesita; *pgxpool.Pool lo cumple.
type Migrator interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate crea las tablas de chat y notificaciones si no existen.
// Las tablas de negocio, miembro y salas pertenecen al servicio principal: si falta
// alguna devuelve ErrMissingTables sin tocar la base.
func Migrate(ctx context.Context, db Migrator) error {
	var missing []string
	for _, table := range ExternalTables {
		var exists bool
		if err := db.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTables, strings.Join(missing, ", "))
	}
	_, err := db.Exec(ctx, schema)
	return err
}
