package reconcile

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, strips diacritics and collapses whitespace.
// "  JOSÉ  da Silva " -> "jose da silva"
func Fold(s string) string {
	// transform chains keep internal state, so one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return collapseSpaces(strings.ToLower(out))
}

// NormalizeLabel is the key used to compare and dedupe labels.
func NormalizeLabel(label string) string {
	return strings.TrimRight(Fold(label), ":. ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type valueKind int

const (
	kindText valueKind = iota
	kindDigits
	kindAlnum
)

var digitLabels = map[string]bool{
	"cpf": true, "cnpj": true, "cep": true, "telefone": true, "celular": true,
	"fone": true, "whatsapp": true, "nire": true, "nis": true, "pis": true,
	"cnh": true,
}

var alnumLabels = map[string]bool{
	"rg": true, "oab": true, "passaporte": true, "rne": true, "crm": true,
}

func labelKind(label string) valueKind {
	tokens := strings.FieldsFunc(Fold(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kind := kindText
	for _, tok := range tokens {
		if digitLabels[tok] {
			return kindDigits
		}
		if alnumLabels[tok] {
			kind = kindAlnum
		}
	}
	return kind
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	time.RFC3339,
}

// ParseDate accepts the date formats found in notarial documents.
// Only the calendar date is kept.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ValuesEqual compares two values of the field named label.
// Identifier-like labels compare digits (or letters and digits) only; values
// that both read as dates compare as dates; everything else compares folded.
func ValuesEqual(label, a, b string) bool {
	switch labelKind(label) {
	case kindDigits:
		da, db := onlyDigits(a), onlyDigits(b)
		if da != "" || db != "" {
			return da == db
		}
	case kindAlnum:
		aa, ab := onlyAlnum(a), onlyAlnum(b)
		if aa != "" || ab != "" {
			return aa == ab
		}
	}
	if ta, ok := ParseDate(a); ok {
		if tb, ok := ParseDate(b); ok {
			return ta.Equal(tb)
		}
	}
	return foldValue(a) == foldValue(b)
}

func foldValue(s string) string {
	return strings.Trim(Fold(s), ".,;: ")
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func onlyAlnum(s string) string {
	var b strings.Builder
	for _, r := range Fold(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
