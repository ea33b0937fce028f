package transform

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"github.com/opencompliance/corelink/internal/domain"
)

// compileCustomValidations compiles the CEL expression of every CUSTOM
// validation on a rule into the program cache. Must be called with e.mu
// held for writing.
func (e *Engine) compileCustomValidations(rule *domain.TransformationRule) error {
	for _, v := range rule.Validations {
		if v.ValidationType != domain.ValidateCustom {
			continue
		}

		expr, _ := v.Parameters["expression"].(string)
		if expr == "" {
			return fmt.Errorf("rule %q: custom validation on field %q has no expression", rule.ID, v.Field)
		}
		if _, ok := e.programs[expr]; ok {
			continue
		}

		ast, issues := e.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %q: failed to compile validation expression: %w", rule.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("rule %q: validation expression must return bool, got %s", rule.ID, ast.OutputType())
		}

		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %q: failed to build validation program: %w", rule.ID, err)
		}
		e.programs[expr] = prg
	}
	return nil
}

// runValidations checks every validation rule against a record and returns
// ERROR-severity failures, WARNING-severity messages, and pass/fail counts.
func (e *Engine) runValidations(validations []domain.ValidationRule, data map[string]any) (errs []Error, warnings []string, passed, failed int) {
	for _, v := range validations {
		ok, msg := e.checkValidation(v, data)
		if ok {
			passed++
			continue
		}
		failed++

		if msg == "" {
			msg = v.ErrorMessage
		}
		if msg == "" {
			msg = fmt.Sprintf("validation %s failed on field %q", v.ValidationType, v.Field)
		}

		if v.Severity == domain.SeverityWarning {
			warnings = append(warnings, msg)
		} else {
			errs = append(errs, Error{
				Code:        CodeValidationFailed,
				Message:     msg,
				SourceField: v.Field,
			})
		}
	}
	return errs, warnings, passed, failed
}

func (e *Engine) checkValidation(v domain.ValidationRule, data map[string]any) (bool, string) {
	value, present := getPath(data, v.Field)

	switch v.ValidationType {
	case domain.ValidateRequired:
		if !present || value == nil || toString(value) == "" {
			return false, fmt.Sprintf("field %q is required", v.Field)
		}
		return true, ""

	case domain.ValidateFormat:
		// Absent optional fields are not format violations.
		if !present || value == nil {
			return true, ""
		}
		pattern, _ := v.Parameters["pattern"].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Sprintf("field %q has an invalid format pattern: %v", v.Field, err)
		}
		if !re.MatchString(toString(value)) {
			return false, fmt.Sprintf("field %q does not match format %q", v.Field, pattern)
		}
		return true, ""

	case domain.ValidateRange:
		if !present || value == nil {
			return true, ""
		}
		n, ok := toFloat(value)
		if !ok {
			return false, fmt.Sprintf("field %q is not numeric", v.Field)
		}
		if min, ok := toFloat(v.Parameters["min"]); ok && n < min {
			return false, fmt.Sprintf("field %q is below minimum %v", v.Field, min)
		}
		if max, ok := toFloat(v.Parameters["max"]); ok && n > max {
			return false, fmt.Sprintf("field %q exceeds maximum %v", v.Field, max)
		}
		return true, ""

	case domain.ValidateLength:
		if !present || value == nil {
			return true, ""
		}
		length := float64(len(toString(value)))
		if a, ok := value.([]any); ok {
			length = float64(len(a))
		}
		if min, ok := toFloat(v.Parameters["min"]); ok && length < min {
			return false, fmt.Sprintf("field %q is shorter than %v", v.Field, min)
		}
		if max, ok := toFloat(v.Parameters["max"]); ok && length > max {
			return false, fmt.Sprintf("field %q is longer than %v", v.Field, max)
		}
		return true, ""

	case domain.ValidateCustom:
		expr, _ := v.Parameters["expression"].(string)

		e.mu.RLock()
		prg, ok := e.programs[expr]
		e.mu.RUnlock()
		if !ok {
			return false, fmt.Sprintf("custom validation on field %q is not compiled", v.Field)
		}

		out, _, err := prg.Eval(map[string]any{"data": data})
		if err != nil {
			return false, fmt.Sprintf("custom validation on field %q failed to evaluate: %v", v.Field, err)
		}
		result, ok := out.Value().(bool)
		if !ok || !result {
			return false, ""
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown validation type %q", v.ValidationType)
	}
}
