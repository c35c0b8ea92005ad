package domain

import (
	"fmt"
	"time"
)

// TransactionType is the closed set of kinds a captured transaction can have.
type TransactionType string

const (
	TypeExpense    TransactionType = "expense"
	TypeIncome     TransactionType = "income"
	TypeInvestment TransactionType = "investment"
)

// TransactionTypes lists every valid TransactionType in prompt order.
var TransactionTypes = []TransactionType{TypeExpense, TypeIncome, TypeInvestment}

// Valid reports whether t is one of the enumerated types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeInvestment:
		return true
	}
	return false
}

// ExtractionResult is the structured record produced from a receipt image,
// a voice note or free text. It is returned by value and never mutated after
// validation; persistence is up to the caller.
type ExtractionResult struct {
	Type       TransactionType `json:"type"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
	Date       string          `json:"date"` // ISO-8601
	Merchant   string          `json:"merchant,omitempty"`
	Payee      string          `json:"payee,omitempty"`
	Method     string          `json:"method,omitempty"`
	Category   string          `json:"category,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	RawText    string          `json:"rawText,omitempty"`
	Confidence float64         `json:"confidence"`
	Language   string          `json:"language"`
}

// DateLayouts are the ISO-8601 shapes ParseDate accepts. Query bounds may be
// plain dates; a model reply must satisfy ParseTimestamp.
var DateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseDate parses an ISO-8601 timestamp or date in any of DateLayouts.
// Zone-less values are interpreted as UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s)
}

// ParseTimestamp parses an RFC 3339 timestamp with an explicit zone, with or
// without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
	}
	return t, nil
}

// Time returns the parsed Date.
func (r ExtractionResult) Time() (time.Time, error) {
	return ParseDate(r.Date)
}
