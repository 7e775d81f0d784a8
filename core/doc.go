// Package core defines the shared data model for the dbbridge
// multi-database access layer: the universal row value shape, table
// and schema metadata, query results, and connection configuration.
//
// Every driver converts its backend-native rows into the same generic
// form (a JSON-compatible map of column name to value) so that one
// consumer can render PostgreSQL, SQLite, Redis, and ClickHouse
// results identically.
package core
