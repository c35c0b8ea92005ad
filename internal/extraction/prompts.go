package extraction

import (
	"fmt"
	"strings"
	"time"
)

// promptText holds the locale-specific sentences of the extraction prompts.
type promptText struct {
	intro      map[string]string
	fieldsHead string
	fields     []string
	dateRule   string
	currency   string
	language   string
	audioNotes string
	textHead   string
	audioHead  string
	jsonOnly   string
}

var englishPrompt = promptText{
	intro: map[string]string{
		"image": "You are a financial assistant. Read the attached receipt, invoice or payment screenshot and extract the single transaction it shows.",
		"audio": "You are a financial assistant. The text below is the transcript of a voice note in which a person describes a transaction. Extract that transaction.",
		"text":  "You are a financial assistant. The text below was typed by a person describing a transaction. Extract that transaction.",
	},
	fieldsHead: "Return a JSON object with exactly these fields:",
	fields: []string{
		`"type": one of "expense", "income", "investment" (required)`,
		`"amount": positive number without currency symbols or thousands separators (required)`,
		`"currency": 3-letter uppercase ISO 4217 code (required)`,
		`"date": ISO 8601 timestamp, for example 2024-03-15T00:00:00Z (required)`,
		`"merchant": store or company name, or null`,
		`"payee": person or company that received or sent the money, or null`,
		`"method": payment method such as cash, credit card, debit card, pix or bank transfer, or null`,
		`"category": short spending or income category such as groceries, restaurants, transport or salary, or null`,
		`"notes": short free-text notes, or null`,
		`"rawText": the relevant original text, or null`,
		`"confidence": number between 0 and 1 describing how sure you are (required)`,
		`"language": the language tag given below (required)`,
	},
	dateRule:   "Today is %s. Resolve relative dates such as \"today\", \"yesterday\" or \"last week\" against this date. If no date is mentioned, use today.",
	currency:   "If no currency is mentioned, use %s.",
	language:   "Set \"language\" to %q.",
	audioNotes: "Put the full transcript in \"notes\".",
	textHead:   "Text:",
	audioHead:  "Transcript:",
	jsonOnly:   "Respond with the bare JSON object only. Do not wrap it in markdown code fences and do not add any other text.",
}

var portuguesePrompt = promptText{
	intro: map[string]string{
		"image": "Você é um assistente financeiro. Leia o recibo, nota fiscal ou comprovante de pagamento anexado e extraia a única transação mostrada.",
		"audio": "Você é um assistente financeiro. O texto abaixo é a transcrição de uma mensagem de voz em que uma pessoa descreve uma transação. Extraia essa transação.",
		"text":  "Você é um assistente financeiro. O texto abaixo foi digitado por uma pessoa descrevendo uma transação. Extraia essa transação.",
	},
	fieldsHead: "Retorne um objeto JSON com exatamente estes campos:",
	fields: []string{
		`"type": um de "expense", "income", "investment" (obrigatório)`,
		`"amount": número positivo sem símbolo de moeda nem separador de milhar (obrigatório)`,
		`"currency": código ISO 4217 de 3 letras maiúsculas (obrigatório)`,
		`"date": data e hora ISO 8601, por exemplo 2024-03-15T00:00:00Z (obrigatório)`,
		`"merchant": nome da loja ou empresa, ou null`,
		`"payee": pessoa ou empresa que recebeu ou enviou o dinheiro, ou null`,
		`"method": forma de pagamento como dinheiro, cartão de crédito, cartão de débito, pix ou transferência, ou null`,
		`"category": categoria curta de gasto ou receita como mercado, restaurante, transporte ou salário, ou null`,
		`"notes": observações curtas, ou null`,
		`"rawText": o texto original relevante, ou null`,
		`"confidence": número entre 0 e 1 indicando sua certeza (obrigatório)`,
		`"language": a etiqueta de idioma indicada abaixo (obrigatório)`,
	},
	dateRule:   "Hoje é %s. Converta datas relativas como \"hoje\", \"ontem\" ou \"semana passada\" usando esta data. Se nenhuma data for mencionada, use hoje.",
	currency:   "Se nenhuma moeda for mencionada, use %s.",
	language:   "Defina \"language\" como %q.",
	audioNotes: "Coloque a transcrição completa em \"notes\".",
	textHead:   "Texto:",
	audioHead:  "Transcrição:",
	jsonOnly:   "Responda apenas com o objeto JSON puro. Não use blocos de código markdown e não adicione nenhum outro texto.",
}

func promptTextFor(loc Locale) promptText {
	if loc.IsPortuguese() {
		return portuguesePrompt
	}
	return englishPrompt
}

// ImagePrompt builds the instruction sent alongside a receipt image.
func ImagePrompt(loc Locale, now time.Time) string {
	return buildPrompt("image", loc, now, "", "")
}

// AudioPrompt builds the extraction instruction for a voice-note transcript.
func AudioPrompt(transcript string, loc Locale, now time.Time) string {
	return buildPrompt("audio", loc, now, promptTextFor(loc).audioHead, transcript)
}

// TextPrompt builds the extraction instruction for free text.
func TextPrompt(text string, loc Locale, now time.Time) string {
	return buildPrompt("text", loc, now, promptTextFor(loc).textHead, text)
}

func buildPrompt(kind string, loc Locale, now time.Time, inputHead, input string) string {
	pt := promptTextFor(loc)

	var sb strings.Builder
	sb.WriteString(pt.intro[kind])
	sb.WriteString("\n\n")

	sb.WriteString(pt.fieldsHead)
	sb.WriteString("\n")
	for _, f := range pt.fields {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, pt.dateRule, now.Format(time.DateOnly))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, pt.currency, loc.DefaultCurrency())
	sb.WriteString("\n")
	fmt.Fprintf(&sb, pt.language, loc.Tag)
	sb.WriteString("\n")
	if kind == "audio" {
		sb.WriteString(pt.audioNotes)
		sb.WriteString("\n")
	}
	sb.WriteString(pt.jsonOnly)

	if inputHead != "" {
		sb.WriteString("\n\n")
		sb.WriteString(inputHead)
		sb.WriteString("\n")
		sb.WriteString(input)
	}

	return sb.String()
}
