package repository

// Schema definitions for the CoreLink rule store and audit trail.
// Compatible with both SQLite and PostgreSQL.

const schemaTransformationRules = `
CREATE TABLE IF NOT EXISTS transformation_rules (
    id TEXT NOT NULL,
    name TEXT,
    source_format TEXT NOT NULL,
    target_format TEXT NOT NULL,
    mappings TEXT NOT NULL,
    conditions TEXT,
    validations TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_transformation_rules_active ON transformation_rules(is_active);
`

const schemaLookupTables = `
CREATE TABLE IF NOT EXISTS lookup_tables (
    id TEXT PRIMARY KEY,
    name TEXT,
    mappings TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    cache_enabled INTEGER NOT NULL DEFAULT 0,
    ttl_seconds INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lookup_tables_active ON lookup_tables(is_active);
`

const schemaIntegrationInstances = `
CREATE TABLE IF NOT EXISTS integration_instances (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    system TEXT NOT NULL,
    operation TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    request_data TEXT,
    response_data TEXT,
    error TEXT,
    processing_time_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_integration_instances_system ON integration_instances(system);
CREATE INDEX IF NOT EXISTS idx_integration_instances_status ON integration_instances(status);
CREATE INDEX IF NOT EXISTS idx_integration_instances_started ON integration_instances(system, started_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransformationRules,
		schemaLookupTables,
		schemaIntegrationInstances,
	}
}
