// Package reconcile compares fields extracted from notarial documents against
// client registry records and merges confirmed fields back.
//
// Everything here is pure: callers load profiles and persist results.
package reconcile

import (
	"errors"
	"strings"
)

// ErrNoMatchingClients is returned by Verify when RequireMatch is set and no
// extracted party corresponds to a registered client.
var ErrNoMatchingClients = errors.New("no extracted party matches a registered client")

// Field is one labeled value, both in extractions and in a client's
// additional data.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Party is a person or organization named in a document.
type Party struct {
	Nome     string  `json:"nome"`
	Tipo     string  `json:"tipo"`
	Detalhes []Field `json:"detalhes"`
}

// Extraction is the structured output of the document extraction flow.
// Empty or partial extractions are valid.
type Extraction struct {
	Partes         []Party `json:"partes"`
	DetalhesGerais []Field `json:"detalhesGerais"`
}

func (e Extraction) IsEmpty() bool {
	return len(e.Partes) == 0 && len(e.DetalhesGerais) == 0
}

// PartyNames lists non-blank party names in document order, without repeats.
func (e Extraction) PartyNames() []string {
	seen := make(map[string]bool, len(e.Partes))
	var names []string
	for _, p := range e.Partes {
		n := strings.TrimSpace(p.Nome)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

type Status string

const (
	StatusOK            Status = "OK"
	StatusDivergente    Status = "Divergente"
	StatusNovo          Status = "Novo"
	StatusNaoEncontrado Status = "Não Encontrado"
)

type FieldVerification struct {
	Label         string `json:"label"`
	Status        Status `json:"status"`
	ExpectedValue string `json:"expectedValue,omitempty"`
	FoundValue    string `json:"foundValue,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
}

type ClientVerification struct {
	ClientName    string              `json:"clientName"`
	ClientID      int                 `json:"clientId"`
	PartyName     string              `json:"partyName"`
	Verifications []FieldVerification `json:"verifications"`
}

// Report is the outcome of Verify.
// Unmatched lists extracted party names that had no registered client.
type Report struct {
	Geral        []string             `json:"geral"`
	ClientChecks []ClientVerification `json:"clientChecks"`
	Unmatched    []string             `json:"unmatched"`
	Empty        bool                 `json:"empty"`
}

// Profile is the part of a client record Verify needs.
type Profile struct {
	ID              int
	Nome            string
	DadosAdicionais []Field
}

type Options struct {
	// NormalizeNames allows a party name with no exact match to match a
	// single client whose name folds to the same text.
	NormalizeNames bool
	// RequireMatch turns "no party matched" into ErrNoMatchingClients.
	RequireMatch bool
}
