// Package postgres provides a PostgreSQL-backed checkpoint store using pgx.
package postgres
