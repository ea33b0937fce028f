// Package domain defines the core interfaces and types for the CoreLink
// integration gateway.
package domain

import (
	"context"
	"time"
)

// Repository is the persistence boundary for transformation rules, lookup
// tables, and the integration audit trail. The gateway consumes rules and
// tables through this interface; the storage technology behind it is not
// part of the gateway contract.
type Repository interface {
	// Transformation rule operations
	SaveRule(ctx context.Context, rule *TransformationRule) error
	GetRule(ctx context.Context, ruleID string) (*TransformationRule, error)
	ListRules(ctx context.Context) ([]*TransformationRule, error)

	// Lookup table operations
	SaveLookupTable(ctx context.Context, table *LookupTable) error
	GetLookupTable(ctx context.Context, tableID string) (*LookupTable, error)
	ListLookupTables(ctx context.Context) ([]*LookupTable, error)

	// Integration audit trail
	SaveInstance(ctx context.Context, inst *IntegrationInstance) error
	UpdateInstance(ctx context.Context, inst *IntegrationInstance) error
	GetInstance(ctx context.Context, id string) (*IntegrationInstance, error)
	ListInstances(ctx context.Context, system string, since time.Time) ([]*IntegrationInstance, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
