package reconcile

import (
	"fmt"
	"strings"
)

// Verify classifies every field of every matched party against the client's
// additional data:
//   - registry label extracted with an equal value: OK
//   - registry label extracted with a different value: Divergente
//   - registry label not extracted: Não Encontrado
//   - extracted label unknown to the registry: Novo
//
// Party names are matched against Profile.Nome exactly. Parties without a
// client are left out of ClientChecks and listed in Unmatched.
func Verify(ex Extraction, profiles []Profile, opts Options) (*Report, error) {
	report := &Report{
		Geral:        []string{},
		ClientChecks: []ClientVerification{},
		Unmatched:    []string{},
	}
	if ex.IsEmpty() {
		report.Empty = true
		report.Geral = append(report.Geral, "Nenhum dado foi extraído do documento.")
	}

	type group struct {
		profile   Profile
		partyName string
		detalhes  []Field
	}
	var order []int
	groups := make(map[int]*group)
	ambiguous := make(map[string]bool)

	for _, party := range ex.Partes {
		name := strings.TrimSpace(party.Nome)
		if name == "" {
			continue
		}
		matched := MatchProfiles(name, profiles, opts.NormalizeNames)
		if len(matched) == 0 {
			if !containsString(report.Unmatched, name) {
				report.Unmatched = append(report.Unmatched, name)
			}
			continue
		}
		if len(matched) > 1 && !ambiguous[name] {
			ambiguous[name] = true
			report.Geral = append(report.Geral,
				fmt.Sprintf("Há %d clientes cadastrados com o nome %q; os dados foram comparados com todos.", len(matched), name))
		}
		for _, p := range matched {
			g, ok := groups[p.ID]
			if !ok {
				g = &group{profile: p, partyName: name}
				groups[p.ID] = g
				order = append(order, p.ID)
			}
			g.detalhes = append(g.detalhes, party.Detalhes...)
		}
	}

	for _, id := range order {
		g := groups[id]
		check, notes := verifyProfile(g.profile, g.partyName, g.detalhes)
		report.ClientChecks = append(report.ClientChecks, check)
		report.Geral = append(report.Geral, notes...)
	}

	if len(report.Unmatched) > 0 {
		report.Geral = append(report.Geral,
			fmt.Sprintf("Partes sem cadastro correspondente: %s.", strings.Join(report.Unmatched, ", ")))
	}
	if n := countValued(ex.DetalhesGerais); n > 0 {
		report.Geral = append(report.Geral,
			fmt.Sprintf("%d detalhe(s) geral(is) do documento não vinculado(s) a uma parte.", n))
	}

	if opts.RequireMatch && len(report.ClientChecks) == 0 {
		return report, ErrNoMatchingClients
	}
	return report, nil
}

// MatchProfiles returns the profiles whose name equals name exactly. When
// none does and normalize is set, a single profile whose folded name equals
// the folded name is accepted; two or more folded matches count as none.
func MatchProfiles(name string, profiles []Profile, normalize bool) []Profile {
	name = strings.TrimSpace(name)
	var exact []Profile
	for _, p := range profiles {
		if strings.TrimSpace(p.Nome) == name {
			exact = append(exact, p)
		}
	}
	if len(exact) > 0 || !normalize {
		return exact
	}

	folded := Fold(name)
	var loose []Profile
	for _, p := range profiles {
		if Fold(p.Nome) == folded {
			loose = append(loose, p)
		}
	}
	if len(loose) == 1 {
		return loose
	}
	return nil
}

func verifyProfile(p Profile, partyName string, detalhes []Field) (ClientVerification, []string) {
	var notes []string
	check := ClientVerification{
		ClientName:    p.Nome,
		ClientID:      p.ID,
		PartyName:     partyName,
		Verifications: []FieldVerification{},
	}

	// first occurrence of each label wins; conflicting repeats are noted
	extracted := make(map[string]Field, len(detalhes))
	var extractedOrder []string
	for _, f := range detalhes {
		value := strings.TrimSpace(f.Value)
		key := NormalizeLabel(f.Label)
		if key == "" || value == "" {
			continue
		}
		if prev, ok := extracted[key]; ok {
			if !ValuesEqual(f.Label, prev.Value, value) {
				notes = append(notes, fmt.Sprintf("O campo %q de %s aparece com valores diferentes no documento: %q e %q.",
					prev.Label, p.Nome, prev.Value, value))
			}
			continue
		}
		extracted[key] = Field{Label: strings.TrimSpace(f.Label), Value: value}
		extractedOrder = append(extractedOrder, key)
	}

	used := make(map[string]bool, len(extracted))
	for _, existing := range p.DadosAdicionais {
		key := NormalizeLabel(existing.Label)
		if key == "" {
			continue
		}
		found, ok := extracted[key]
		if !ok {
			check.Verifications = append(check.Verifications, FieldVerification{
				Label:         existing.Label,
				Status:        StatusNaoEncontrado,
				ExpectedValue: existing.Value,
			})
			continue
		}
		used[key] = true
		if ValuesEqual(existing.Label, existing.Value, found.Value) {
			check.Verifications = append(check.Verifications, FieldVerification{
				Label:         existing.Label,
				Status:        StatusOK,
				ExpectedValue: existing.Value,
			})
			continue
		}
		check.Verifications = append(check.Verifications, FieldVerification{
			Label:         existing.Label,
			Status:        StatusDivergente,
			ExpectedValue: existing.Value,
			FoundValue:    found.Value,
			Reasoning:     fmt.Sprintf("O documento informa %q, mas o cadastro registra %q.", found.Value, existing.Value),
		})
	}

	for _, key := range extractedOrder {
		if used[key] {
			continue
		}
		f := extracted[key]
		check.Verifications = append(check.Verifications, FieldVerification{
			Label:      f.Label,
			Status:     StatusNovo,
			FoundValue: f.Value,
		})
	}
	return check, notes
}

// Selectable returns the fields a user may commit from a check: Novo and
// Divergente entries with their extracted values.
func (c ClientVerification) Selectable() []Field {
	var out []Field
	for _, v := range c.Verifications {
		if v.Status == StatusNovo || v.Status == StatusDivergente {
			out = append(out, Field{Label: v.Label, Value: v.FoundValue})
		}
	}
	return out
}

func countValued(fields []Field) int {
	n := 0
	for _, f := range fields {
		if strings.TrimSpace(f.Value) != "" {
			n++
		}
	}
	return n
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
