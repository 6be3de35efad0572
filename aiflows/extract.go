package aiflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/reconcile"
)

// ExtractActDetails turns act text into parties and labeled fields.
// Empty text gives an empty extraction without calling the model.
func (f *Flows) ExtractActDetails(ctx context.Context, text string) (reconcile.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return reconcile.Extraction{}, nil
	}
	var ex reconcile.Extraction
	if err := f.runJSON(ctx, FlowExtractActDetails, userRequest(text), &ex); err != nil {
		return reconcile.Extraction{}, err
	}
	return sanitizeExtraction(ex), nil
}

// drops unnamed parties and blank fields; the model may omit anything
func sanitizeExtraction(ex reconcile.Extraction) reconcile.Extraction {
	out := reconcile.Extraction{}
	for _, p := range ex.Partes {
		nome := strings.TrimSpace(p.Nome)
		if nome == "" {
			continue
		}
		out.Partes = append(out.Partes, reconcile.Party{
			Nome:     nome,
			Tipo:     strings.ToUpper(strings.TrimSpace(p.Tipo)),
			Detalhes: sanitizeFields(p.Detalhes),
		})
	}
	out.DetalhesGerais = sanitizeFields(ex.DetalhesGerais)
	return out
}

func sanitizeFields(fields []reconcile.Field) []reconcile.Field {
	var out []reconcile.Field
	for _, f := range fields {
		label := strings.TrimSpace(f.Label)
		value := strings.TrimSpace(f.Value)
		if label == "" || value == "" {
			continue
		}
		out = append(out, reconcile.Field{Label: label, Value: value})
	}
	return out
}

type MinuteCheckInput struct {
	Texto    string
	Profiles []reconcile.Profile
}

type MinuteCheckOutput struct {
	Extraction reconcile.Extraction `json:"extraction"`
	Geral      []string             `json:"geral"`
}

// CheckMinuteData extracts the minute and asks for document-wide remarks.
// Field-level classification is done by reconcile.Verify.
func (f *Flows) CheckMinuteData(ctx context.Context, input MinuteCheckInput) (*MinuteCheckOutput, error) {
	ex, err := f.ExtractActDetails(ctx, input.Texto)
	if err != nil {
		return nil, err
	}
	out := &MinuteCheckOutput{Extraction: ex}
	if strings.TrimSpace(input.Texto) == "" {
		return out, nil
	}

	registry, err := json.Marshal(input.Profiles)
	if err != nil {
		return nil, flowError(FlowCheckMinuteData, err)
	}
	prompt := fmt.Sprintf("Minuta:\n%s\n\nDados cadastrais das partes:\n%s", input.Texto, registry)
	var remarks struct {
		Geral []string `json:"geral"`
	}
	if err := f.runJSON(ctx, FlowCheckMinuteData, userRequest(prompt), &remarks); err != nil {
		return nil, err
	}
	for _, g := range remarks.Geral {
		if g = strings.TrimSpace(g); g != "" {
			out.Geral = append(out.Geral, g)
		}
	}
	return out, nil
}
