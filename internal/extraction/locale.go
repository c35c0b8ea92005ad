package extraction

import "strings"

// DefaultLanguage is used when the caller does not pass a locale tag.
const DefaultLanguage = "en"

// Locale is a BCP 47-style language tag such as "en" or "pt-BR".
type Locale struct {
	Tag string
}

// ParseLocale trims the tag and falls back to DefaultLanguage.
func ParseLocale(tag string) Locale {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = DefaultLanguage
	}
	return Locale{Tag: tag}
}

func (l Locale) String() string { return l.Tag }

// IsPortuguese reports whether the tag belongs to the Portuguese family.
func (l Locale) IsPortuguese() bool {
	return strings.HasPrefix(strings.ToLower(l.Tag), "pt")
}

// SpeechLanguage is the two-letter hint passed to speech-to-text.
func (l Locale) SpeechLanguage() string {
	if l.IsPortuguese() {
		return "pt"
	}
	return "en"
}

// DefaultCurrency is the currency assumed when the input names none.
func (l Locale) DefaultCurrency() string {
	normalized := strings.ToLower(strings.ReplaceAll(l.Tag, "_", "-"))
	if normalized == "pt-br" {
		return "BRL"
	}
	return "USD"
}
