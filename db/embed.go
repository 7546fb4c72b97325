// Package db embeds the PostgreSQL schema for the order store.
package db

import _ "embed"

// Schema contains the DDL for the orders table. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
