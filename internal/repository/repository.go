// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule stores a transformation rule, upserting on (id, version).
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.TransformationRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	mappings, _ := json.Marshal(rule.Mappings)
	conditions, _ := json.Marshal(rule.Conditions)
	validations, _ := json.Marshal(rule.Validations)

	active := 0
	if rule.IsActive {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO transformation_rules (
			id, name, source_format, target_format, mappings, conditions,
			validations, is_active, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			source_format = excluded.source_format,
			target_format = excluded.target_format,
			mappings = excluded.mappings,
			conditions = excluded.conditions,
			validations = excluded.validations,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.SourceFormat, rule.TargetFormat,
		string(mappings), string(conditions), string(validations),
		active, rule.Version, now, now,
	)
	return err
}

// GetRule retrieves the latest version of a transformation rule.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.TransformationRule, error) {
	query := `
		SELECT id, name, source_format, target_format, mappings, conditions,
			   validations, is_active, version
		FROM transformation_rules
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves the latest version of every transformation rule.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.TransformationRule, error) {
	query := `
		SELECT t.id, t.name, t.source_format, t.target_format, t.mappings,
			   t.conditions, t.validations, t.is_active, t.version
		FROM transformation_rules t
		INNER JOIN (
			SELECT id, MAX(version) AS version
			FROM transformation_rules
			GROUP BY id
		) latest ON t.id = latest.id AND t.version = latest.version
		ORDER BY t.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TransformationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.TransformationRule, error) {
	var rule domain.TransformationRule
	var mappings, conditions, validations string
	var active int

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.SourceFormat, &rule.TargetFormat,
		&mappings, &conditions, &validations, &active, &rule.Version,
	)
	if err != nil {
		return nil, err
	}

	rule.IsActive = active == 1
	if err := json.Unmarshal([]byte(mappings), &rule.Mappings); err != nil {
		return nil, fmt.Errorf("failed to parse rule mappings for %s: %w", rule.ID, err)
	}
	if conditions != "" && conditions != "null" {
		json.Unmarshal([]byte(conditions), &rule.Conditions)
	}
	if validations != "" && validations != "null" {
		json.Unmarshal([]byte(validations), &rule.Validations)
	}
	return &rule, nil
}

// SaveLookupTable stores a lookup table, upserting on id.
func (r *SQLRepository) SaveLookupTable(ctx context.Context, table *domain.LookupTable) error {
	if table == nil || table.ID == "" {
		return fmt.Errorf("%w: table id is required", ErrInvalidInput)
	}

	mappings, _ := json.Marshal(table.Mappings)

	active, cached := 0, 0
	if table.IsActive {
		active = 1
	}
	if table.CacheEnabled {
		cached = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO lookup_tables (
			id, name, mappings, is_active, cache_enabled, ttl_seconds, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mappings = excluded.mappings,
			is_active = excluded.is_active,
			cache_enabled = excluded.cache_enabled,
			ttl_seconds = excluded.ttl_seconds,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		table.ID, table.Name, string(mappings), active, cached, table.TTLSeconds, now, now,
	)
	return err
}

// GetLookupTable retrieves a lookup table by id.
func (r *SQLRepository) GetLookupTable(ctx context.Context, tableID string) (*domain.LookupTable, error) {
	query := `
		SELECT id, name, mappings, is_active, cache_enabled, ttl_seconds
		FROM lookup_tables
		WHERE id = ?
	`

	var table domain.LookupTable
	var mappings string
	var active, cached int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tableID).Scan(
		&table.ID, &table.Name, &mappings, &active, &cached, &table.TTLSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	table.IsActive = active == 1
	table.CacheEnabled = cached == 1
	if err := json.Unmarshal([]byte(mappings), &table.Mappings); err != nil {
		return nil, fmt.Errorf("failed to parse lookup mappings for %s: %w", table.ID, err)
	}
	return &table, nil
}

// ListLookupTables retrieves all lookup tables.
func (r *SQLRepository) ListLookupTables(ctx context.Context) ([]*domain.LookupTable, error) {
	query := `
		SELECT id, name, mappings, is_active, cache_enabled, ttl_seconds
		FROM lookup_tables
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*domain.LookupTable
	for rows.Next() {
		var table domain.LookupTable
		var mappings string
		var active, cached int

		if err := rows.Scan(&table.ID, &table.Name, &mappings, &active, &cached, &table.TTLSeconds); err != nil {
			return nil, err
		}

		table.IsActive = active == 1
		table.CacheEnabled = cached == 1
		if err := json.Unmarshal([]byte(mappings), &table.Mappings); err != nil {
			return nil, fmt.Errorf("failed to parse lookup mappings for %s: %w", table.ID, err)
		}
		tables = append(tables, &table)
	}
	return tables, rows.Err()
}

// SaveInstance stores a new integration instance.
func (r *SQLRepository) SaveInstance(ctx context.Context, inst *domain.IntegrationInstance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidInput)
	}

	requestData, _ := json.Marshal(inst.RequestData)

	query := `
		INSERT INTO integration_instances (
			id, type, system, operation, status, started_at, request_data, processing_time_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inst.ID, inst.Type, inst.System, inst.Operation, inst.Status,
		inst.StartedAt, string(requestData), inst.ProcessingTimeMs,
	)
	return err
}

// UpdateInstance records the terminal state of an integration instance.
func (r *SQLRepository) UpdateInstance(ctx context.Context, inst *domain.IntegrationInstance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidInput)
	}

	responseData, _ := json.Marshal(inst.ResponseData)

	query := `
		UPDATE integration_instances
		SET status = ?, completed_at = ?, response_data = ?, error = ?, processing_time_ms = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		inst.Status, inst.CompletedAt, string(responseData), inst.Error,
		inst.ProcessingTimeMs, inst.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetInstance retrieves one integration instance by id.
func (r *SQLRepository) GetInstance(ctx context.Context, id string) (*domain.IntegrationInstance, error) {
	query := `
		SELECT id, type, system, operation, status, started_at, completed_at,
			   request_data, response_data, error, processing_time_ms
		FROM integration_instances
		WHERE id = ?
	`

	inst, err := scanInstance(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

// ListInstances retrieves instances for a system since a point in time.
// An empty system matches all systems.
func (r *SQLRepository) ListInstances(ctx context.Context, system string, since time.Time) ([]*domain.IntegrationInstance, error) {
	query := `
		SELECT id, type, system, operation, status, started_at, completed_at,
			   request_data, response_data, error, processing_time_ms
		FROM integration_instances
		WHERE (? = '' OR system = ?)
		  AND started_at >= ?
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), system, system, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*domain.IntegrationInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*domain.IntegrationInstance, error) {
	var inst domain.IntegrationInstance
	var completedAt sql.NullTime
	var requestData, responseData, errMsg sql.NullString

	err := row.Scan(
		&inst.ID, &inst.Type, &inst.System, &inst.Operation, &inst.Status,
		&inst.StartedAt, &completedAt, &requestData, &responseData, &errMsg,
		&inst.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	if requestData.Valid && requestData.String != "" && requestData.String != "null" {
		json.Unmarshal([]byte(requestData.String), &inst.RequestData)
	}
	if responseData.Valid && responseData.String != "" && responseData.String != "null" {
		json.Unmarshal([]byte(responseData.String), &inst.ResponseData)
	}
	inst.Error = errMsg.String
	return &inst, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
