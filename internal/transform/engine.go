// Package transform provides the rule-based transformation engine that
// reshapes data between the platform schema and external wire formats.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opencompliance/corelink/internal/domain"
)

// ErrorCode classifies transformation failures. Configuration-class codes
// (missing rule, table, or function) are always fatal to the call;
// FIELD_ERROR is fatal only when the mapping is required.
type ErrorCode string

const (
	CodeRuleNotFound     ErrorCode = "RULE_NOT_FOUND"
	CodeRuleInactive     ErrorCode = "RULE_INACTIVE"
	CodeConditionFailed  ErrorCode = "CONDITION_FAILED"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeTableNotFound    ErrorCode = "TABLE_NOT_FOUND"
	CodeTableInactive    ErrorCode = "TABLE_INACTIVE"
	CodeFunctionNotFound ErrorCode = "FUNCTION_NOT_FOUND"
	CodeFieldError       ErrorCode = "FIELD_ERROR"
)

// Error describes one transformation failure.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	SourceField string    `json:"sourceField,omitempty"`
	TargetField string    `json:"targetField,omitempty"`
}

func (e Error) Error() string {
	if e.SourceField != "" || e.TargetField != "" {
		return fmt.Sprintf("%s: %s (source=%s target=%s)", e.Code, e.Message, e.SourceField, e.TargetField)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Options controls a single transform call.
type Options struct {
	ValidateInput   bool `json:"validateInput"`
	ValidateOutput  bool `json:"validateOutput"`
	IncludeMetadata bool `json:"includeMetadata"`
	StrictMode      bool `json:"strictMode"`
}

// Result is the outcome of one transform call. Data is only present on
// success; partial output is never returned.
type Result struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"transformedData,omitempty"`
	Errors   []Error        `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata *Metadata      `json:"metadata,omitempty"`
}

// Metadata reports processing details for one transform call.
type Metadata struct {
	RuleID            string `json:"ruleId"`
	RuleVersion       string `json:"ruleVersion"`
	SourceFormat      string `json:"sourceFormat"`
	TargetFormat      string `json:"targetFormat"`
	MappingsApplied   int    `json:"mappingsApplied"`
	ValidationsPassed int    `json:"validationsPassed"`
	ValidationsFailed int    `json:"validationsFailed"`
	DurationMs        int64  `json:"durationMs"`
}

// Engine interprets transformation rules against nested data. The rule map,
// lookup tables, and function registry are read on every transform and
// mutated only by admin operations, so all access goes through an RWMutex.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*domain.TransformationRule
	tables   map[string]*domain.LookupTable
	funcs    map[string]Func
	programs map[string]cel.Program

	env      *cel.Env
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewEngine creates a transformation engine. cache may be nil, in which
// case lookup results are resolved from the table on every call.
func NewEngine(cache domain.Cache) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		rules:    make(map[string]*domain.TransformationRule),
		tables:   make(map[string]*domain.LookupTable),
		funcs:    builtinFunctions(),
		programs: make(map[string]cel.Program),
		env:      env,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
	}, nil
}

// LoadRule registers a rule, compiling any CUSTOM validation expressions.
func (e *Engine) LoadRule(rule *domain.TransformationRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.compileCustomValidations(rule); err != nil {
		return err
	}

	e.rules[rule.ID] = rule
	return nil
}

// LoadRules registers multiple rules; inactive rules are still loaded so
// that Transform can distinguish RULE_INACTIVE from RULE_NOT_FOUND.
func (e *Engine) LoadRules(rules []*domain.TransformationRule) error {
	for _, rule := range rules {
		if err := e.LoadRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules. This enables hot-reloading of
// rules from the rule store without a restart.
func (e *Engine) ReloadRules(rules []*domain.TransformationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*domain.TransformationRule, len(rules))
	for _, rule := range rules {
		if err := e.compileCustomValidations(rule); err != nil {
			return err
		}
		newRules[rule.ID] = rule
	}

	e.rules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.TransformationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.TransformationRule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// AddLookupTable registers a lookup table.
func (e *Engine) AddLookupTable(table *domain.LookupTable) error {
	if table == nil || table.ID == "" {
		return fmt.Errorf("table id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[table.ID] = table
	return nil
}

// UpdateLookupTable replaces a table's definition and evicts every cached
// entry for that table, so stale translations are never served.
func (e *Engine) UpdateLookupTable(ctx context.Context, table *domain.LookupTable) error {
	if table == nil || table.ID == "" {
		return fmt.Errorf("table id is required")
	}

	e.mu.Lock()
	e.tables[table.ID] = table
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.DeletePrefix(ctx, lookupKeyPrefix(table.ID)); err != nil {
			slog.Warn("failed to evict lookup cache entries",
				"table_id", table.ID,
				"error", err,
			)
		}
	}
	return nil
}

// LookupTables returns the registered lookup tables.
func (e *Engine) LookupTables() []*domain.LookupTable {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tables := make([]*domain.LookupTable, 0, len(e.tables))
	for _, t := range e.tables {
		tables = append(tables, t)
	}
	return tables
}

// RegisterFunction adds a custom function by name. Registering an existing
// name overwrites it silently.
func (e *Engine) RegisterFunction(name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[name] = fn
}

// UnregisterFunction removes a function by name.
func (e *Engine) UnregisterFunction(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.funcs, name)
}

// Close releases engine state.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*domain.TransformationRule)
	e.tables = make(map[string]*domain.LookupTable)
	e.programs = make(map[string]cel.Program)
	return nil
}

// Transform runs one rule against sourceData. All failures are reported
// through the Result; Transform itself never panics or returns an error
// value, so callers have a single failure channel.
func (e *Engine) Transform(ctx context.Context, ruleID string, sourceData map[string]any, opts Options) *Result {
	start := time.Now()

	e.mu.RLock()
	rule, ok := e.rules[ruleID]
	e.mu.RUnlock()

	if !ok {
		return failure(Error{Code: CodeRuleNotFound, Message: fmt.Sprintf("transformation rule %q not found", ruleID)})
	}
	if !rule.IsActive {
		return failure(Error{Code: CodeRuleInactive, Message: fmt.Sprintf("transformation rule %q is inactive", ruleID)})
	}

	meta := &Metadata{
		RuleID:       rule.ID,
		RuleVersion:  rule.Version,
		SourceFormat: rule.SourceFormat,
		TargetFormat: rule.TargetFormat,
	}

	result := &Result{Success: true}

	// Input validation short-circuits before any mapping runs.
	if opts.ValidateInput {
		errs, warnings, passed, failed := e.runValidations(rule.Validations, sourceData)
		meta.ValidationsPassed += passed
		meta.ValidationsFailed += failed
		result.Warnings = append(result.Warnings, warnings...)
		if len(errs) > 0 {
			result.Success = false
			result.Errors = errs
			finish(result, meta, opts, start)
			return result
		}
	}

	// Conditions gate whether the rule runs at all, not individual mappings.
	for _, cond := range rule.Conditions {
		if !evaluateCondition(cond, sourceData) {
			result.Success = false
			result.Errors = append(result.Errors, Error{
				Code:    CodeConditionFailed,
				Message: fmt.Sprintf("condition on field %q (%s) not met", cond.Field, cond.Operator),
			})
			finish(result, meta, opts, start)
			return result
		}
	}

	output := make(map[string]any)

	for _, mapping := range rule.Mappings {
		value, err := e.applyMapping(ctx, mapping, sourceData)

		if err == nil && value == nil && mapping.DefaultValue != nil {
			value = mapping.DefaultValue
		}

		if err == nil && value != nil {
			value, err = coerce(value, mapping.DataType, mapping.Format)
		}

		if err != nil {
			// Configuration errors are fatal regardless of IsRequired.
			if te, ok := err.(Error); ok && te.Code != CodeFieldError {
				te.SourceField = mapping.SourceField
				te.TargetField = mapping.TargetField
				result.Success = false
				result.Errors = append(result.Errors, te)
				finish(result, meta, opts, start)
				return result
			}

			if mapping.IsRequired {
				result.Success = false
				result.Errors = append(result.Errors, Error{
					Code:        CodeFieldError,
					Message:     err.Error(),
					SourceField: mapping.SourceField,
					TargetField: mapping.TargetField,
				})
				finish(result, meta, opts, start)
				return result
			}

			warning := fmt.Sprintf("mapping %s -> %s failed: %v", mapping.SourceField, mapping.TargetField, err)
			slog.Warn("optional field mapping failed",
				"rule_id", rule.ID,
				"source_field", mapping.SourceField,
				"target_field", mapping.TargetField,
				"error", err,
			)
			result.Warnings = append(result.Warnings, warning)
			continue
		}

		if value != nil {
			setPath(output, mapping.TargetField, value)
			meta.MappingsApplied++
		}
	}

	if opts.ValidateOutput {
		errs, warnings, passed, failed := e.runValidations(rule.Validations, output)
		meta.ValidationsPassed += passed
		meta.ValidationsFailed += failed
		result.Warnings = append(result.Warnings, warnings...)
		if len(errs) > 0 {
			if opts.StrictMode {
				result.Success = false
				result.Errors = append(result.Errors, errs...)
			} else {
				for _, ve := range errs {
					result.Warnings = append(result.Warnings, ve.Error())
				}
			}
		}
	}

	if result.Success {
		result.Data = output
	}
	finish(result, meta, opts, start)
	return result
}

func failure(errs ...Error) *Result {
	return &Result{Success: false, Errors: errs}
}

func finish(result *Result, meta *Metadata, opts Options, start time.Time) {
	meta.DurationMs = time.Since(start).Milliseconds()
	if opts.IncludeMetadata {
		result.Metadata = meta
	}
}

// applyMapping computes the value for one field mapping. A missing source
// path yields nil, never an error.
func (e *Engine) applyMapping(ctx context.Context, mapping domain.FieldMapping, source map[string]any) (any, error) {
	value, _ := getPath(source, mapping.SourceField)

	switch mapping.TransformationType {
	case domain.TransformDirect, "":
		return value, nil

	case domain.TransformFunction:
		return e.applyFunction(mapping, value)

	case domain.TransformLookup:
		return e.applyLookup(ctx, mapping, value)

	case domain.TransformConditional:
		return applyConditional(mapping, value, source)

	case domain.TransformAggregate:
		return applyAggregate(mapping, source)

	default:
		return nil, fmt.Errorf("unknown transformation type %q", mapping.TransformationType)
	}
}

func (e *Engine) applyFunction(mapping domain.FieldMapping, value any) (any, error) {
	e.mu.RLock()
	fn, ok := e.funcs[mapping.TransformationFunction]
	e.mu.RUnlock()

	if !ok {
		return nil, Error{
			Code:    CodeFunctionNotFound,
			Message: fmt.Sprintf("transformation function %q is not registered", mapping.TransformationFunction),
		}
	}

	var args []any
	if raw, ok := mapping.Parameters["args"].([]any); ok {
		args = raw
	}

	return fn(value, args...)
}

func lookupKeyPrefix(tableID string) string {
	return "lookup_" + tableID + "_"
}

// applyLookup resolves a coded value against an active lookup table with
// three-tier fallback: table hit > configured default > original value.
func (e *Engine) applyLookup(ctx context.Context, mapping domain.FieldMapping, value any) (any, error) {
	tableID, _ := mapping.Parameters["tableId"].(string)
	if tableID == "" {
		return nil, Error{Code: CodeTableNotFound, Message: "lookup mapping has no tableId parameter"}
	}

	e.mu.RLock()
	table, ok := e.tables[tableID]
	e.mu.RUnlock()

	if !ok {
		return nil, Error{Code: CodeTableNotFound, Message: fmt.Sprintf("lookup table %q not found", tableID)}
	}
	if !table.IsActive {
		return nil, Error{Code: CodeTableInactive, Message: fmt.Sprintf("lookup table %q is inactive", tableID)}
	}

	key := toString(value)
	cacheKey := lookupKeyPrefix(tableID) + key

	if table.CacheEnabled && e.cache != nil {
		if data, err := e.cache.Get(ctx, cacheKey); err == nil && data != nil {
			var cached any
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	if mapped, ok := table.Mappings[key]; ok {
		if table.CacheEnabled && e.cache != nil {
			if data, err := json.Marshal(mapped); err == nil {
				ttl := e.cacheTTL
				if table.TTLSeconds > 0 {
					ttl = time.Duration(table.TTLSeconds) * time.Second
				}
				_ = e.cache.Set(ctx, cacheKey, data, ttl)
			}
		}
		return mapped, nil
	}

	if def, ok := mapping.Parameters["defaultValue"]; ok {
		return def, nil
	}
	return value, nil
}

// applyConditional evaluates an ordered list of {condition, value} pairs
// against the whole source record and returns the first match.
func applyConditional(mapping domain.FieldMapping, value any, source map[string]any) (any, error) {
	pairs, _ := mapping.Parameters["conditions"].([]any)

	for _, raw := range pairs {
		pair, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		condMap, ok := pair["condition"].(map[string]any)
		if !ok {
			continue
		}

		if evaluateCondition(parseCondition(condMap), source) {
			return pair["value"], nil
		}
	}

	if def, ok := mapping.Parameters["defaultValue"]; ok {
		return def, nil
	}
	return value, nil
}

// applyAggregate computes SUM/AVG/MIN/MAX/COUNT/CONCAT over a named list of
// source fields, skipping null and missing inputs.
func applyAggregate(mapping domain.FieldMapping, source map[string]any) (any, error) {
	op, _ := mapping.Parameters["operation"].(string)
	rawFields, _ := mapping.Parameters["fields"].([]any)

	var values []any
	for _, f := range rawFields {
		v, ok := getPath(source, toString(f))
		if ok && v != nil {
			values = append(values, v)
		}
	}

	switch op {
	case "COUNT":
		return float64(len(values)), nil

	case "CONCAT":
		sep, _ := mapping.Parameters["separator"].(string)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = toString(v)
		}
		return strings.Join(parts, sep), nil

	case "SUM", "AVG", "MIN", "MAX":
		var nums []float64
		for _, v := range values {
			n, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("aggregate %s: value %q is not numeric", op, toString(v))
			}
			nums = append(nums, n)
		}
		if len(nums) == 0 {
			return nil, nil
		}

		switch op {
		case "SUM":
			return sum(nums), nil
		case "AVG":
			return sum(nums) / float64(len(nums)), nil
		case "MIN":
			m := nums[0]
			for _, n := range nums[1:] {
				if n < m {
					m = n
				}
			}
			return m, nil
		default: // MAX
			m := nums[0]
			for _, n := range nums[1:] {
				if n > m {
					m = n
				}
			}
			return m, nil
		}

	default:
		return nil, fmt.Errorf("unknown aggregate operation %q", op)
	}
}

func sum(nums []float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}
