package transform

import (
	"strings"
	"testing"
)

func callFn(t *testing.T, name string, value any, args ...any) any {
	t.Helper()
	fn, ok := builtinFunctions()[name]
	if !ok {
		t.Fatalf("function %q not in catalogue", name)
	}
	out, err := fn(value, args...)
	if err != nil {
		t.Fatalf("%s(%v, %v): %v", name, value, args, err)
	}
	return out
}

func TestStringFunctions(t *testing.T) {
	if got := callFn(t, "uppercase", "hdfc bank"); got != "HDFC BANK" {
		t.Errorf("uppercase = %v", got)
	}
	if got := callFn(t, "lowercase", "HDFC"); got != "hdfc" {
		t.Errorf("lowercase = %v", got)
	}
	if got := callFn(t, "trim", "  x  "); got != "x" {
		t.Errorf("trim = %v", got)
	}
	if got := callFn(t, "substring", "abcdef", 1, 4); got != "bcd" {
		t.Errorf("substring = %v", got)
	}
	if got := callFn(t, "replace", "a-b-c", "-", "/"); got != "a/b/c" {
		t.Errorf("replace = %v", got)
	}
	if got := callFn(t, "padLeft", "42", 5, "0"); got != "00042" {
		t.Errorf("padLeft = %v", got)
	}
	if got := callFn(t, "padRight", "42", 4, "."); got != "42.." {
		t.Errorf("padRight = %v", got)
	}
}

func TestNumericFunctions(t *testing.T) {
	if got := callFn(t, "parseNumber", " 12.5 "); got != 12.5 {
		t.Errorf("parseNumber = %v", got)
	}
	if got := callFn(t, "round", 3.14159, 2); got != 3.14 {
		t.Errorf("round = %v", got)
	}
	if got := callFn(t, "abs", -7.0); got != 7.0 {
		t.Errorf("abs = %v", got)
	}
	if got := callFn(t, "formatCurrency", 1234.5, "INR"); got != "INR 1234.50" {
		t.Errorf("formatCurrency = %v", got)
	}
}

func TestDateFunctions(t *testing.T) {
	if got := callFn(t, "formatDate", "2026-08-25T10:30:00Z", "2006-01-02"); got != "2026-08-25" {
		t.Errorf("formatDate = %v", got)
	}
	if got := callFn(t, "addDays", "2026-08-25T00:00:00Z", 7); !strings.HasPrefix(got.(string), "2026-09-01") {
		t.Errorf("addDays = %v", got)
	}
	now := callFn(t, "now", nil).(string)
	if len(now) == 0 {
		t.Error("now returned empty string")
	}
}

func TestArrayFunctions(t *testing.T) {
	list := []any{"a", "b", "c"}

	if got := callFn(t, "join", list, "|"); got != "a|b|c" {
		t.Errorf("join = %v", got)
	}
	if got := callFn(t, "split", "a,b,c"); len(got.([]any)) != 3 {
		t.Errorf("split = %v", got)
	}
	if got := callFn(t, "first", list); got != "a" {
		t.Errorf("first = %v", got)
	}
	if got := callFn(t, "last", list); got != "c" {
		t.Errorf("last = %v", got)
	}
	if got := callFn(t, "length", list); got != 3.0 {
		t.Errorf("length = %v", got)
	}
}

func TestNullHandling(t *testing.T) {
	if got := callFn(t, "ifNull", nil, "fallback"); got != "fallback" {
		t.Errorf("ifNull(nil) = %v", got)
	}
	if got := callFn(t, "ifNull", "present", "fallback"); got != "present" {
		t.Errorf("ifNull(present) = %v", got)
	}
	if got := callFn(t, "ifEmpty", "", "fallback"); got != "fallback" {
		t.Errorf("ifEmpty(\"\") = %v", got)
	}
	if got := callFn(t, "conditional", true, "yes", "no"); got != "yes" {
		t.Errorf("conditional(true) = %v", got)
	}
	if got := callFn(t, "conditional", false, "yes", "no"); got != "no" {
		t.Errorf("conditional(false) = %v", got)
	}
}

func TestBankingFunctions(t *testing.T) {
	t.Run("formatAccountNumber", func(t *testing.T) {
		if got := callFn(t, "formatAccountNumber", "1234567890"); got != "1234 5678 90" {
			t.Errorf("got %v, want 1234 5678 90", got)
		}
	})

	t.Run("maskAccountNumber", func(t *testing.T) {
		if got := callFn(t, "maskAccountNumber", "1234567890"); got != "******7890" {
			t.Errorf("got %v, want ******7890", got)
		}
		if got := callFn(t, "maskAccountNumber", "1234567890", 6); got != "****567890" {
			t.Errorf("got %v, want ****567890", got)
		}
		// Inputs at or below the visible count come back untouched.
		if got := callFn(t, "maskAccountNumber", "123"); got != "123" {
			t.Errorf("got %v, want 123", got)
		}
	})

	t.Run("validateIFSC", func(t *testing.T) {
		if got := callFn(t, "validateIFSC", "HDFC0001234"); got != true {
			t.Errorf("valid IFSC rejected")
		}
		for _, bad := range []string{"HDFC1001234", "HD0001234", "hdfc0001234", ""} {
			if got := callFn(t, "validateIFSC", bad); got != false {
				t.Errorf("validateIFSC(%q) = %v, want false", bad, got)
			}
		}
	})

	t.Run("formatPAN", func(t *testing.T) {
		if got := callFn(t, "formatPAN", "abcde 1234 f"); got != "ABCDE1234F" {
			t.Errorf("got %v, want ABCDE1234F", got)
		}
	})
}
