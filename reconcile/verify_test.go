package reconcile

import (
	"errors"
	"testing"
)

func mariaSilva() Profile {
	return Profile{
		ID:   7,
		Nome: "Maria Silva",
		DadosAdicionais: []Field{
			{Label: "Estado Civil", Value: "casada"},
		},
	}
}

func findCheck(t *testing.T, r *Report, clientID int) ClientVerification {
	t.Helper()
	for _, c := range r.ClientChecks {
		if c.ClientID == clientID {
			return c
		}
	}
	t.Fatalf("no check for client %d in %+v", clientID, r.ClientChecks)
	return ClientVerification{}
}

func findField(t *testing.T, c ClientVerification, label string) FieldVerification {
	t.Helper()
	for _, v := range c.Verifications {
		if v.Label == label {
			return v
		}
	}
	t.Fatalf("no verification for %q in %+v", label, c.Verifications)
	return FieldVerification{}
}

func TestVerifyMariaSilvaScenario(t *testing.T) {
	ex := Extraction{
		Partes: []Party{{
			Nome: "Maria Silva",
			Tipo: "PF",
			Detalhes: []Field{
				{Label: "Estado Civil", Value: "solteira"},
				{Label: "RG", Value: "99.888.777-6"},
			},
		}},
	}

	report, err := Verify(ex, []Profile{mariaSilva()}, Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	check := findCheck(t, report, 7)
	if len(check.Verifications) != 2 {
		t.Fatalf("expected 2 verifications, got %+v", check.Verifications)
	}

	civil := findField(t, check, "Estado Civil")
	if civil.Status != StatusDivergente || civil.ExpectedValue != "casada" || civil.FoundValue != "solteira" {
		t.Fatalf("unexpected Estado Civil verification: %+v", civil)
	}
	if civil.Reasoning == "" {
		t.Fatalf("divergent field should carry reasoning")
	}

	rg := findField(t, check, "RG")
	if rg.Status != StatusNovo || rg.FoundValue != "99.888.777-6" || rg.ExpectedValue != "" {
		t.Fatalf("unexpected RG verification: %+v", rg)
	}
}

func TestVerifyClassifiesEveryStatus(t *testing.T) {
	profile := Profile{
		ID:   1,
		Nome: "João Souza",
		DadosAdicionais: []Field{
			{Label: "Profissão", Value: "Engenheiro Civil"},
			{Label: "CPF", Value: "529.982.247-25"},
			{Label: "Nascimento", Value: "1980-03-05"},
			{Label: "Nacionalidade", Value: "brasileira"},
			{Label: "Regime de Bens", Value: "comunhão parcial"},
		},
	}
	ex := Extraction{Partes: []Party{{
		Nome: "João Souza",
		Detalhes: []Field{
			{Label: "profissao", Value: "  ENGENHEIRO   civil "},
			{Label: "CPF", Value: "52998224725"},
			{Label: "Nascimento", Value: "05/03/1980"},
			{Label: "Regime de bens", Value: "separação total"},
			{Label: "Endereço", Value: "Rua A, 10"},
		},
	}}}

	report, err := Verify(ex, []Profile{profile}, Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	check := findCheck(t, report, 1)

	want := map[string]Status{
		"Profissão":      StatusOK,
		"CPF":            StatusOK,
		"Nascimento":     StatusOK,
		"Nacionalidade":  StatusNaoEncontrado,
		"Regime de Bens": StatusDivergente,
		"Endereço":       StatusNovo,
	}
	if len(check.Verifications) != len(want) {
		t.Fatalf("expected %d verifications, got %+v", len(want), check.Verifications)
	}
	for label, status := range want {
		if got := findField(t, check, label); got.Status != status {
			t.Fatalf("%s: expected %s, got %s", label, status, got.Status)
		}
	}
}

func TestVerifyExcludesUnknownParties(t *testing.T) {
	ex := Extraction{Partes: []Party{
		{Nome: "Maria Silva", Detalhes: []Field{{Label: "Estado Civil", Value: "casada"}}},
		{Nome: "Fulano de Tal", Detalhes: []Field{{Label: "RG", Value: "1"}}},
		{Nome: "Beltrano", Detalhes: nil},
	}}

	report, err := Verify(ex, []Profile{mariaSilva()}, Options{})
	if err != nil {
		t.Fatalf("unknown parties must not fail: %v", err)
	}
	if len(report.ClientChecks) != 1 || report.ClientChecks[0].ClientID != 7 {
		t.Fatalf("expected only Maria Silva checked, got %+v", report.ClientChecks)
	}
	if len(report.Unmatched) != 2 || report.Unmatched[0] != "Fulano de Tal" || report.Unmatched[1] != "Beltrano" {
		t.Fatalf("unexpected unmatched list: %v", report.Unmatched)
	}
	if len(report.Geral) == 0 {
		t.Fatalf("expected a general note about unmatched parties")
	}
}

func TestVerifyRequireMatch(t *testing.T) {
	ex := Extraction{Partes: []Party{{Nome: "Fulano de Tal"}}}
	report, err := Verify(ex, []Profile{mariaSilva()}, Options{RequireMatch: true})
	if !errors.Is(err, ErrNoMatchingClients) {
		t.Fatalf("expected ErrNoMatchingClients, got %v", err)
	}
	if report == nil || len(report.Unmatched) != 1 {
		t.Fatalf("report should still describe the unmatched party: %+v", report)
	}

	if _, err := Verify(ex, []Profile{mariaSilva()}, Options{}); err != nil {
		t.Fatalf("lenient variant must not fail: %v", err)
	}
}

func TestVerifyEmptyExtraction(t *testing.T) {
	report, err := Verify(Extraction{}, []Profile{mariaSilva()}, Options{})
	if err != nil {
		t.Fatalf("empty extraction is not an error: %v", err)
	}
	if !report.Empty || len(report.ClientChecks) != 0 || len(report.Geral) == 0 {
		t.Fatalf("unexpected report for empty extraction: %+v", report)
	}
}

func TestMatchProfilesNormalization(t *testing.T) {
	profiles := []Profile{
		{ID: 1, Nome: "José da Silva"},
		{ID: 2, Nome: "Ana Lima"},
		{ID: 3, Nome: "ANA LIMA"},
	}

	if got := MatchProfiles("JOSE DA  SILVA", profiles, false); len(got) != 0 {
		t.Fatalf("exact matching must not fold: %+v", got)
	}
	got := MatchProfiles("JOSE DA  SILVA", profiles, true)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected folded match on José, got %+v", got)
	}
	if got := MatchProfiles("ana lima", profiles, true); len(got) != 0 {
		t.Fatalf("ambiguous folded match must be rejected, got %+v", got)
	}
	if got := MatchProfiles("Ana Lima", profiles, true); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("exact match must win over folding, got %+v", got)
	}
}

func TestVerifyNotesConflictingDuplicateLabels(t *testing.T) {
	ex := Extraction{Partes: []Party{{
		Nome: "Maria Silva",
		Detalhes: []Field{
			{Label: "RG", Value: "11.111.111-1"},
			{Label: "rg", Value: "22.222.222-2"},
		},
	}}}
	report, err := Verify(ex, []Profile{mariaSilva()}, Options{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	rg := findField(t, findCheck(t, report, 7), "RG")
	if rg.FoundValue != "11.111.111-1" {
		t.Fatalf("first occurrence should win, got %+v", rg)
	}
	if len(report.Geral) != 1 {
		t.Fatalf("expected one note about the conflicting label, got %v", report.Geral)
	}
}

func TestValuesEqual(t *testing.T) {
	cases := []struct {
		label, a, b string
		want        bool
	}{
		{"CPF", "529.982.247-25", "52998224725", true},
		{"CEP", "01310-100", "01310100", true},
		{"Telefone", "(11) 98765-4321", "11 987654321", true},
		{"RG", "12.345.678-X", "12345678x", true},
		{"Estado Civil", "Casada", "casada.", true},
		{"Cidade", "São Paulo", "SAO  PAULO", true},
		{"Data de Nascimento", "1990-01-02", "02/01/1990", true},
		{"Data de Nascimento", "1990-01-02", "03/01/1990", false},
		{"Estado Civil", "casada", "solteira", false},
		{"CPF", "529.982.247-25", "529.982.247-26", false},
	}
	for _, tc := range cases {
		if got := ValuesEqual(tc.label, tc.a, tc.b); got != tc.want {
			t.Fatalf("ValuesEqual(%q, %q, %q) = %v, want %v", tc.label, tc.a, tc.b, got, tc.want)
		}
	}
}
