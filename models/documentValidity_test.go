package models

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestClassifyDocumentValidity(t *testing.T) {
	today := time.Date(2024, 5, 10, 15, 42, 0, 0, time.Local)

	cases := []struct {
		name string
		raw  *string
		want ValidityStatus
	}{
		{"no expiry", nil, ValidityValido},
		{"blank expiry", strPtr("  "), ValidityValido},
		{"unparseable", strPtr("amanhã"), ValidityDataInvalida},
		{"today", strPtr("2024-05-10"), ValidityVenceEmBreve},
		{"yesterday", strPtr("2024-05-09"), ValidityExpirado},
		{"in 30 days", strPtr("2024-06-09"), ValidityVenceEmBreve},
		{"in 31 days", strPtr("2024-06-10"), ValidityValido},
		{"br format", strPtr("09/05/2024"), ValidityExpirado},
		{"rfc3339", strPtr("2024-05-10T00:00:00Z"), ValidityVenceEmBreve},
	}
	for _, tc := range cases {
		got := ClassifyDocumentValidity(tc.raw, today)
		if got.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.Status)
		}
	}
}

func TestClassifyDocumentValidityDaysLeft(t *testing.T) {
	today := time.Date(2024, 12, 30, 23, 59, 0, 0, time.UTC)
	got := ClassifyDocumentValidity(strPtr("2025-01-02"), today)
	if got.DaysLeft == nil || *got.DaysLeft != 3 {
		t.Fatalf("expected 3 days left, got %+v", got.DaysLeft)
	}
	if got := ClassifyDocumentValidity(nil, today); got.DaysLeft != nil {
		t.Fatalf("no expiry should have no day count")
	}
}
