// Package postgres implements store.TaskStore on PostgreSQL through
// database/sql and the pgx stdlib driver. Task records are kept as JSONB
// next to the columns needed for compare-and-swap and expiry, and the
// schema ships as embedded goose migrations.
package postgres
