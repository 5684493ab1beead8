package kv

import "fmt"

// Schema definitions for Kestrel profile storage. The profile value is
// a binary column whose type name differs per driver (SQLite BLOB,
// PostgreSQL BYTEA), so the statement is a template filled in by
// AllSchemas.

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    key TEXT PRIMARY KEY,
    value %s NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_updated ON profiles(updated_at);
`

// blobType returns the driver's binary column type.
func blobType(driver string) string {
	if driver == "postgres" {
		return "BYTEA"
	}
	return "BLOB"
}

// AllSchemas returns all schema statements for the driver, in order.
func AllSchemas(driver string) []string {
	return []string{
		fmt.Sprintf(schemaProfiles, blobType(driver)),
	}
}
