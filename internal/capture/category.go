package capture

import (
	"strings"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/forPelevin/gomoji"
)

// normalizeCategory strips emojis, folds case and collapses whitespace so
// "🍔 Restaurants " and "restaurants" compare equal.
func normalizeCategory(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(gomoji.RemoveEmojis(name)), " "))
}

// ResolveCategory maps the model's free-text category onto the taxonomy.
// Categories for txType win over same-named categories of another type.
// Unknown or empty names resolve to domain.UncategorizedID.
func ResolveCategory(categories []domain.Category, name string, txType domain.TransactionType) string {
	want := normalizeCategory(name)
	if want == "" {
		return domain.UncategorizedID
	}

	fallback := ""
	for _, cat := range categories {
		if normalizeCategory(cat.Name) != want && normalizeCategory(cat.ID) != want {
			continue
		}
		if cat.Type == txType || cat.Type == "" {
			return cat.ID
		}
		if fallback == "" {
			fallback = cat.ID
		}
	}
	if fallback != "" {
		return fallback
	}
	return domain.UncategorizedID
}
