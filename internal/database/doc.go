// Package database manages the PostgreSQL (or TimescaleDB) connection pool
// behind the optional trade archive.
package database
