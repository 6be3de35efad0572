package aiflows

import (
	"context"
	"encoding/json"
	"strings"
)

type SearchCandidate struct {
	ID     int      `json:"id"`
	Tipo   string   `json:"tipo"`
	Data   string   `json:"data"`
	Partes []string `json:"partes"`
	Trecho string   `json:"trecho"`
}

type SearchHit struct {
	ID     int    `json:"id"`
	Motivo string `json:"motivo"`
}

const snippetRunes = 600

// Snippet shortens act content for the ranking prompt.
func Snippet(s string) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) > snippetRunes {
		return string(r[:snippetRunes]) + "…"
	}
	return string(r)
}

// SemanticSearch ranks candidates for query. Ids the model invents are dropped
// and repeated ids keep their first position.
func (f *Flows) SemanticSearch(ctx context.Context, query string, candidates []SearchCandidate) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" || len(candidates) == 0 {
		return []SearchHit{}, nil
	}
	list, err := json.Marshal(candidates)
	if err != nil {
		return nil, flowError(FlowSemanticSearch, err)
	}
	var answer struct {
		Resultados []SearchHit `json:"resultados"`
	}
	req := userRequest("Consulta: " + query + "\n\nAtos:\n" + string(list))
	if err := f.runJSON(ctx, FlowSemanticSearch, req, &answer); err != nil {
		return nil, err
	}

	known := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	hits := []SearchHit{}
	seen := make(map[int]bool)
	for _, h := range answer.Resultados {
		if !known[h.ID] || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		hits = append(hits, SearchHit{ID: h.ID, Motivo: strings.TrimSpace(h.Motivo)})
	}
	return hits, nil
}
