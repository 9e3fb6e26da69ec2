package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.Field, e.Value, e.Message)
}

// Validator accumulates rule failures so a config or profile reports every
// problem at once instead of the first.
type Validator struct {
	errs []ValidationError
}

func NewValidator() *Validator { return &Validator{} }

// Field applies rules to value in order, recording each failure.
func (v *Validator) Field(name string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if e := rule(name, value); e != nil {
			v.errs = append(v.errs, *e)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

func (v *Validator) Errors() []ValidationError { return v.errs }

func (v *Validator) ErrorMessage() string {
	var b strings.Builder
	for i, e := range v.errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

// AsAppError returns nil when valid, else an AppError with the given code wrapping ErrInvalidInput.
func (v *Validator) AsAppError(code string) error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError(code, v.ErrorMessage(), ErrInvalidInput)
}

type ValidationRule func(fieldName string, value any) *ValidationError

// Required rejects nil, blank strings and empty string slices.
func Required(fieldName string, value any) *ValidationError {
	fail := &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	switch v := value.(type) {
	case nil:
		return fail
	case string:
		if strings.TrimSpace(v) == "" {
			return fail
		}
	case []string:
		if len(v) == 0 {
			fail.Message = "must not be empty"
			return fail
		}
	}
	return nil
}

// MaxLength returns a rule rejecting strings longer than max runes.
func MaxLength(max int) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("must be at most %d characters", max),
			}
		}
		return nil
	}
}

// Pattern rejects strings (or each string of a slice) that are not valid regular expressions.
func Pattern(fieldName string, value any) *ValidationError {
	var patterns []string
	switch v := value.(type) {
	case string:
		patterns = []string{v}
	case []string:
		patterns = v
	default:
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return &ValidationError{Field: fieldName, Value: p, Message: "must be a valid regular expression: " + err.Error()}
		}
	}
	return nil
}

// PositiveDuration rejects zero or negative durations.
func PositiveDuration(fieldName string, value any) *ValidationError {
	d, ok := value.(time.Duration)
	if !ok {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a duration"}
	}
	if d <= 0 {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be positive"}
	}
	return nil
}

// OneOf returns a rule accepting only the listed string values.
func OneOf(allowed ...string) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		str, _ := value.(string)
		for _, a := range allowed {
			if str == a {
				return nil
			}
		}
		return &ValidationError{
			Field:   fieldName,
			Value:   value,
			Message: "must be one of " + strings.Join(allowed, ", "),
		}
	}
}
