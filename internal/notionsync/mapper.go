package notionsync

import (
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the target database.
const (
	PropDescription   = "Description"
	PropTransactionID = "Transaction ID"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropCurrency      = "Currency"
	PropType          = "Type"
	PropCategory      = "Category"
	PropMethod        = "Method"
	PropSource        = "Source"
	PropHousehold     = "Household"
	PropNotes         = "Notes"
	PropConfidence    = "Confidence"
)

// TransactionToNotionProperties maps a transaction onto the database columns.
// The title is the merchant, else the payee, else the transaction type.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	amount, _ := tx.Amount.Float64()
	date := notionapi.Date(time.Date(tx.Date.Year(), tx.Date.Month(), tx.Date.Day(), 0, 0, 0, 0, time.UTC))

	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: richText(description(tx)),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID),
		},
		PropDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		PropAmount: notionapi.NumberProperty{
			Number: amount,
		},
		PropType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
		PropSource: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Source)},
		},
		PropConfidence: notionapi.NumberProperty{
			Number: tx.Confidence,
		},
	}

	if tx.Currency != "" {
		props[PropCurrency] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Currency}}
	}
	if tx.CategoryID != "" {
		props[PropCategory] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.CategoryID}}
	}
	if tx.Method != "" {
		props[PropMethod] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Method}}
	}
	if tx.HouseholdID != "" {
		props[PropHousehold] = notionapi.RichTextProperty{RichText: richText(tx.HouseholdID)}
	}
	if tx.Notes != "" {
		// Notion caps a rich text block at 2000 characters.
		props[PropNotes] = notionapi.RichTextProperty{RichText: richText(clip(tx.Notes, 2000))}
	}

	return props
}

func description(tx *domain.Transaction) string {
	switch {
	case tx.Merchant != "":
		return tx.Merchant
	case tx.Payee != "":
		return tx.Payee
	default:
		return string(tx.Type)
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// extractTransactionID reads the Transaction ID column of a queried page.
// Returns an empty string if the page has none.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}
