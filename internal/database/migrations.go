package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yanun0323/logs"
)

// schema se aplica en orden; cada sentencia es idempotente.
var schema = []struct {
	name string
	sql  string
}{
	{
		name: "users",
		sql: `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	},
	{
		name: "transactions",
		sql: `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('buy', 'sell')),
		amount NUMERIC NOT NULL CHECK (amount > 0),
		unit_price NUMERIC NOT NULL CHECK (unit_price > 0),
		total_price NUMERIC NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	},
	{
		name: "transactions_user_asset_index",
		sql: `
	CREATE INDEX IF NOT EXISTS idx_transactions_user_asset
	ON transactions(user_id, asset_id, created_at, id);`,
	},
	{
		name: "positions",
		sql: `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		amount NUMERIC NOT NULL CHECK (amount >= 0),
		average_cost NUMERIC NOT NULL CHECK (average_cost >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, asset_id)
	);`,
	},
}

// Migrate crea las tablas necesarias si no existen.
func Migrate(ctx context.Context, db *sql.DB) error {
	logs.Info("Ejecutando migraciones de la base de datos...")

	for _, step := range schema {
		if _, err := db.ExecContext(ctx, step.sql); err != nil {
			return fmt.Errorf("migration %s: %w", step.name, err)
		}
	}

	logs.Infof("Migraciones aplicadas: %d", len(schema))
	return nil
}
