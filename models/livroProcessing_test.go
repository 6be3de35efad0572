package models

import "testing"

func TestProcessingRate(t *testing.T) {
	cases := []struct {
		processados, comPdf int64
		want                float64
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{5, 5, 100},
	}
	for _, tc := range cases {
		if got := processingRate(tc.processados, tc.comPdf); got != tc.want {
			t.Fatalf("processingRate(%d, %d) = %v, want %v", tc.processados, tc.comPdf, got, tc.want)
		}
	}
	if LivroOperation(12) != "livro:12" {
		t.Fatalf("LivroOperation = %q", LivroOperation(12))
	}
}
