package domain

// TransformationType selects how a field mapping computes its value.
type TransformationType string

const (
	TransformDirect      TransformationType = "DIRECT"
	TransformFunction    TransformationType = "FUNCTION"
	TransformLookup      TransformationType = "LOOKUP"
	TransformConditional TransformationType = "CONDITIONAL"
	TransformAggregate   TransformationType = "AGGREGATE"
)

// DataType is the declared target type a mapped value is coerced to.
type DataType string

const (
	TypeString  DataType = "STRING"
	TypeNumber  DataType = "NUMBER"
	TypeBoolean DataType = "BOOLEAN"
	TypeDate    DataType = "DATE"
	TypeObject  DataType = "OBJECT"
	TypeArray   DataType = "ARRAY"
)

// ConditionOperator compares a source field against a configured value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "EQUALS"
	OpNotEquals   ConditionOperator = "NOT_EQUALS"
	OpContains    ConditionOperator = "CONTAINS"
	OpStartsWith  ConditionOperator = "STARTS_WITH"
	OpEndsWith    ConditionOperator = "ENDS_WITH"
	OpGreaterThan ConditionOperator = "GREATER_THAN"
	OpLessThan    ConditionOperator = "LESS_THAN"
	OpIn          ConditionOperator = "IN"
	OpNotIn       ConditionOperator = "NOT_IN"
)

// ValidationType selects the check a validation rule performs.
type ValidationType string

const (
	ValidateRequired ValidationType = "REQUIRED"
	ValidateFormat   ValidationType = "FORMAT"
	ValidateRange    ValidationType = "RANGE"
	ValidateLength   ValidationType = "LENGTH"
	ValidateCustom   ValidationType = "CUSTOM"
)

// Severity classifies validation failures. ERROR blocks the call,
// WARNING never does.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// TransformationRule is a declarative mapping between two message formats.
// A rule is immutable once referenced by an in-flight transform; updates
// take effect only for subsequent calls.
type TransformationRule struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	SourceFormat string `json:"sourceFormat"`
	TargetFormat string `json:"targetFormat"`

	Mappings    []FieldMapping            `json:"mappings"`
	Conditions  []TransformationCondition `json:"conditions,omitempty"`
	Validations []ValidationRule          `json:"validations,omitempty"`

	IsActive bool   `json:"isActive"`
	Version  string `json:"version"`
}

// FieldMapping maps one dotted source path to one dotted target path.
type FieldMapping struct {
	SourceField string `json:"sourceField"`
	TargetField string `json:"targetField"`

	TransformationType     TransformationType `json:"transformationType"`
	TransformationFunction string             `json:"transformationFunction,omitempty"`
	Parameters             map[string]any     `json:"parameters,omitempty"`

	DefaultValue any      `json:"defaultValue,omitempty"`
	IsRequired   bool     `json:"isRequired"`
	DataType     DataType `json:"dataType"`
	Format       string   `json:"format,omitempty"`
}

// TransformationCondition gates whether a rule runs at all. Conditions are
// combined with logical AND; a failing condition skips every mapping.
type TransformationCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
	Action   string            `json:"action,omitempty"`
}

// ValidationRule checks a single field before or after mapping.
// CUSTOM rules carry a CEL expression in Parameters["expression"] that is
// evaluated against the whole record bound as `data`.
type ValidationRule struct {
	Field          string         `json:"field"`
	ValidationType ValidationType `json:"validationType"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	ErrorMessage   string         `json:"errorMessage"`
	Severity       Severity       `json:"severity"`
}

// LookupTable translates coded values during transformation.
// An inactive table must never be resolved against; that is a configuration
// error, not a per-record failure.
type LookupTable struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Mappings     map[string]any `json:"mappings"`
	IsActive     bool           `json:"isActive"`
	CacheEnabled bool           `json:"cacheEnabled"`
	TTLSeconds   int            `json:"ttl,omitempty"`
}
