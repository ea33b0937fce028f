package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "corelink-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		rule := &domain.TransformationRule{
			ID:           "core-to-platform",
			Name:         "Core account to platform schema",
			SourceFormat: "FLEXCUBE",
			TargetFormat: "PLATFORM",
			Mappings: []domain.FieldMapping{
				{SourceField: "ACC", TargetField: "accountNumber", TransformationType: domain.TransformDirect, IsRequired: true, DataType: domain.TypeString},
				{SourceField: "CCY", TargetField: "currency", TransformationType: domain.TransformDirect, DefaultValue: "INR", DataType: domain.TypeString},
			},
			Validations: []domain.ValidationRule{
				{Field: "ACC", ValidationType: domain.ValidateRequired, Severity: domain.SeverityError},
			},
			IsActive: true,
			Version:  "1.0.0",
		}

		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		retrieved, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}

		if retrieved.ID != rule.ID || retrieved.Version != "1.0.0" {
			t.Errorf("got %s/%s", retrieved.ID, retrieved.Version)
		}
		if len(retrieved.Mappings) != 2 {
			t.Errorf("expected 2 mappings, got %d", len(retrieved.Mappings))
		}
		if retrieved.Mappings[1].DefaultValue != "INR" {
			t.Errorf("default value = %v", retrieved.Mappings[1].DefaultValue)
		}
		if len(retrieved.Validations) != 1 || retrieved.Validations[0].ValidationType != domain.ValidateRequired {
			t.Errorf("validations = %+v", retrieved.Validations)
		}
		if !retrieved.IsActive {
			t.Error("rule should be active")
		}
	})

	t.Run("UpsertRuleVersion", func(t *testing.T) {
		rule := &domain.TransformationRule{
			ID:           "core-to-platform",
			SourceFormat: "FLEXCUBE",
			TargetFormat: "PLATFORM",
			Mappings:     []domain.FieldMapping{{SourceField: "X", TargetField: "y"}},
			IsActive:     true,
			Version:      "1.1.0",
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule v1.1.0 failed: %v", err)
		}

		// GetRule returns the newest version.
		retrieved, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Version != "1.1.0" {
			t.Errorf("version = %s, want 1.1.0", retrieved.Version)
		}

		// ListRules collapses to one entry per rule id.
		rules, err := repo.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		count := 0
		for _, r := range rules {
			if r.ID == rule.ID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("expected 1 entry for rule id, got %d", count)
		}
	})

	t.Run("SaveAndGetLookupTable", func(t *testing.T) {
		table := &domain.LookupTable{
			ID:           "currency-codes",
			Name:         "ISO currency codes",
			Mappings:     map[string]any{"INR": "356", "USD": "840"},
			IsActive:     true,
			CacheEnabled: true,
			TTLSeconds:   600,
		}

		if err := repo.SaveLookupTable(ctx, table); err != nil {
			t.Fatalf("SaveLookupTable failed: %v", err)
		}

		retrieved, err := repo.GetLookupTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("GetLookupTable failed: %v", err)
		}
		if retrieved.Mappings["INR"] != "356" {
			t.Errorf("mappings = %v", retrieved.Mappings)
		}
		if !retrieved.CacheEnabled || retrieved.TTLSeconds != 600 {
			t.Errorf("cache settings = %v/%d", retrieved.CacheEnabled, retrieved.TTLSeconds)
		}

		tables, err := repo.ListLookupTables(ctx)
		if err != nil {
			t.Fatalf("ListLookupTables failed: %v", err)
		}
		if len(tables) != 1 {
			t.Errorf("expected 1 table, got %d", len(tables))
		}
	})

	t.Run("IntegrationInstanceLifecycle", func(t *testing.T) {
		inst := &domain.IntegrationInstance{
			ID:          "int-001",
			Type:        domain.IntegrationBankingCore,
			System:      "flexcube",
			Operation:   "QueryAccount",
			Status:      domain.StatusProcessing,
			StartedAt:   time.Now().UTC(),
			RequestData: map[string]any{"AccountNo": "001"},
		}

		if err := repo.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance failed: %v", err)
		}

		now := time.Now().UTC()
		inst.Status = domain.StatusCompleted
		inst.CompletedAt = &now
		inst.ResponseData = map[string]any{"balance": 42.0}
		inst.ProcessingTimeMs = 17

		if err := repo.UpdateInstance(ctx, inst); err != nil {
			t.Fatalf("UpdateInstance failed: %v", err)
		}

		retrieved, err := repo.GetInstance(ctx, inst.ID)
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if retrieved.Status != domain.StatusCompleted || retrieved.CompletedAt == nil {
			t.Errorf("instance = %+v", retrieved)
		}
		if retrieved.ResponseData["balance"] != 42.0 {
			t.Errorf("response data = %v", retrieved.ResponseData)
		}
		if retrieved.ProcessingTimeMs != 17 {
			t.Errorf("processing time = %d", retrieved.ProcessingTimeMs)
		}
	})

	t.Run("ListInstancesBySystem", func(t *testing.T) {
		other := &domain.IntegrationInstance{
			ID:        "int-002",
			Type:      domain.IntegrationRegulatory,
			System:    "fiu-ind",
			Operation: "SubmitReport",
			Status:    domain.StatusFailed,
			StartedAt: time.Now().UTC(),
			Error:     "upstream unavailable",
		}
		if err := repo.SaveInstance(ctx, other); err != nil {
			t.Fatalf("SaveInstance failed: %v", err)
		}

		since := time.Now().Add(-time.Hour)

		flexcube, err := repo.ListInstances(ctx, "flexcube", since)
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(flexcube) != 1 || flexcube[0].ID != "int-001" {
			t.Errorf("flexcube instances = %+v", flexcube)
		}

		all, err := repo.ListInstances(ctx, "", since)
		if err != nil {
			t.Fatalf("ListInstances all failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 instances, got %d", len(all))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetLookupTable(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetInstance(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if err := repo.UpdateInstance(ctx, &domain.IntegrationInstance{ID: "nonexistent"}); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on update, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
