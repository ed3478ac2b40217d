package db

import _ "embed"

// Schema is the DDL the repository expects. It is applied by tests and by
// operators; the service itself never migrates.
//
//go:embed schema.sql
var Schema string
