package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Modality is the kind of input a transaction was captured from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// Valid reports whether m is a supported modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityImage, ModalityAudio:
		return true
	}
	return false
}

// Transaction is the persisted record built from an ExtractionResult.
// Unlike the extraction result it carries ownership, a resolved category and
// an exact decimal amount.
type Transaction struct {
	ID          string          `json:"id"`
	HouseholdID string          `json:"household_id"`
	UserID      string          `json:"user_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`

	Merchant     string `json:"merchant,omitempty"`
	Payee        string `json:"payee,omitempty"`
	Method       string `json:"method,omitempty"`
	CategoryName string `json:"category_name,omitempty"` // as returned by the model
	CategoryID   string `json:"category_id"`
	Notes        string `json:"notes,omitempty"`

	Source     Modality `json:"source"`
	SourceRef  string   `json:"source_ref,omitempty"`
	Confidence float64  `json:"confidence"`
	Language   string   `json:"language"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTransaction copies an ExtractionResult into a fresh Transaction owned by
// householdID/userID. The category ID is left for the caller to resolve.
func NewTransaction(res ExtractionResult, householdID, userID string, source Modality, sourceRef string) (*Transaction, error) {
	date, err := res.Time()
	if err != nil {
		return nil, fmt.Errorf("NewTransaction: %w", err)
	}

	notes := res.Notes
	if notes == "" {
		notes = res.RawText
	}

	return &Transaction{
		ID:           uuid.NewString(),
		HouseholdID:  householdID,
		UserID:       userID,
		Type:         res.Type,
		Amount:       decimal.NewFromFloat(res.Amount).Round(2),
		Currency:     strings.ToUpper(res.Currency),
		Date:         date.UTC(),
		Merchant:     res.Merchant,
		Payee:        res.Payee,
		Method:       res.Method,
		CategoryName: res.Category,
		CategoryID:   UncategorizedID,
		Notes:        notes,
		Source:       source,
		SourceRef:    sourceRef,
		Confidence:   res.Confidence,
		Language:     res.Language,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
