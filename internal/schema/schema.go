// Package schema validates parsed model output against the ExtractionResult
// contract. It knows nothing about transports, so it can be exercised with
// literal JSON fixtures.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dvloznov/finance-capture/internal/domain"
)

// Issue describes one failing field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationError enumerates every field that failed validation.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the failing fields in report order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		fields = append(fields, issue.Field)
	}
	return fields
}

type collector struct {
	issues []Issue
}

func (c *collector) add(field, format string, args ...any) {
	c.issues = append(c.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: c.issues}
}

// Validate checks an arbitrary decoded JSON value and returns the typed
// result. Unknown keys are ignored. A conformant input comes back with every
// field equal to the input value.
func Validate(v any) (domain.ExtractionResult, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return domain.ExtractionResult{}, &ValidationError{Issues: []Issue{{
			Message: fmt.Sprintf("expected a JSON object, got %s", jsonKind(v)),
		}}}
	}

	c := &collector{}
	res := domain.ExtractionResult{
		Type:       domain.TransactionType(requiredString(c, obj, "type")),
		Amount:     requiredNumber(c, obj, "amount"),
		Currency:   requiredString(c, obj, "currency"),
		Date:       requiredString(c, obj, "date"),
		Merchant:   optionalString(c, obj, "merchant"),
		Payee:      optionalString(c, obj, "payee"),
		Method:     optionalString(c, obj, "method"),
		Category:   optionalString(c, obj, "category"),
		Notes:      optionalString(c, obj, "notes"),
		RawText:    optionalString(c, obj, "rawText"),
		Confidence: requiredNumber(c, obj, "confidence"),
		Language:   requiredString(c, obj, "language"),
	}

	// Type errors already reported above would only produce noise here.
	reported := make(map[string]bool, len(c.issues))
	for _, issue := range c.issues {
		reported[issue.Field] = true
	}
	checkConstraints(c, res, reported)

	if err := c.err(); err != nil {
		return domain.ExtractionResult{}, err
	}
	return res, nil
}

// Check applies the value constraints to an already typed result.
func Check(res domain.ExtractionResult) error {
	c := &collector{}
	checkConstraints(c, res, nil)
	return c.err()
}

func checkConstraints(c *collector, res domain.ExtractionResult, skip map[string]bool) {
	if !skip["type"] && !res.Type.Valid() {
		c.add("type", "must be one of expense, income, investment, got %q", res.Type)
	}
	if !skip["amount"] && !(res.Amount > 0) {
		c.add("amount", "must be greater than 0, got %v", res.Amount)
	}
	if !skip["currency"] && !isCurrencyCode(res.Currency) {
		c.add("currency", "must be exactly 3 uppercase letters, got %q", res.Currency)
	}
	if !skip["date"] {
		if _, err := domain.ParseTimestamp(res.Date); err != nil {
			c.add("date", "must be an ISO-8601 timestamp, got %q", res.Date)
		}
	}
	if !skip["confidence"] && (res.Confidence < 0 || res.Confidence > 1) {
		c.add("confidence", "must be between 0 and 1, got %v", res.Confidence)
	}
	if !skip["language"] && strings.TrimSpace(res.Language) == "" {
		c.add("language", "must not be empty")
	}
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func requiredString(c *collector, m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		c.add(key, "is required")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		c.add(key, "must be a string, got %s", jsonKind(v))
		return ""
	}
	return s
}

func optionalString(c *collector, m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		c.add(key, "must be a string or null, got %s", jsonKind(v))
		return ""
	}
	return s
}

func requiredNumber(c *collector, m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		c.add(key, "is required")
		return 0
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			c.add(key, "must be a number, got %q", val.String())
			return 0
		}
		f = parsed
	default:
		c.add(key, "must be a number, got %s", jsonKind(v))
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.add(key, "must be a finite number")
		return 0
	}
	return f
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
