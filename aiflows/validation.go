package aiflows

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityAlta  Severity = "alta"
	SeverityMedia Severity = "media"
	SeverityBaixa Severity = "baixa"
)

type Problem struct {
	Severidade Severity `json:"severidade"`
	Descricao  string   `json:"descricao"`
}

type ValidationReport struct {
	Valido    bool      `json:"valido"`
	Problemas []Problem `json:"problemas"`
}

// AutomatedValidation checks the formal requirements of an act's text.
// An act with any high-severity problem is never reported valid.
func (f *Flows) AutomatedValidation(ctx context.Context, text string) (*ValidationReport, error) {
	if strings.TrimSpace(text) == "" {
		return &ValidationReport{
			Valido:    false,
			Problemas: []Problem{{Severidade: SeverityAlta, Descricao: "Ato sem conteúdo."}},
		}, nil
	}
	var report ValidationReport
	if err := f.runJSON(ctx, FlowAutomatedValidation, userRequest(text), &report); err != nil {
		return nil, err
	}
	problems := []Problem{}
	for _, p := range report.Problemas {
		p.Descricao = strings.TrimSpace(p.Descricao)
		if p.Descricao == "" {
			continue
		}
		switch p.Severidade {
		case SeverityAlta, SeverityMedia, SeverityBaixa:
		default:
			p.Severidade = SeverityMedia
		}
		if p.Severidade == SeverityAlta {
			report.Valido = false
		}
		problems = append(problems, p)
	}
	report.Problemas = problems
	return &report, nil
}

type DraftAto struct {
	Numero   int      `json:"numero"`
	Folha    string   `json:"folha"`
	Tipo     string   `json:"tipo"`
	Data     string   `json:"data"`
	Partes   []string `json:"partes"`
	Conteudo string   `json:"conteudo"`
	// zero when the model could not read the amount
	Emolumentos decimal.Decimal `json:"emolumentos"`
}

// the model writes amounts as printed in the book ("R$ 1.234,50")
type draftAnswer struct {
	DraftAto
	Emolumentos interface{} `json:"emolumentos"`
}

// MaxPdfBytes bounds inline PDF uploads to the model.
const MaxPdfBytes = 20 * 1024 * 1024

var ErrNotPdf = errors.New("file is not a PDF")

// ProcessLivroPdf reads a scanned book and returns draft acts for review.
// Nothing is persisted here.
func (f *Flows) ProcessLivroPdf(ctx context.Context, pdf []byte) ([]DraftAto, error) {
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, ErrNotPdf
	}
	if len(pdf) > MaxPdfBytes {
		return nil, errors.New("pdf exceeds size limit")
	}
	req := userRequest("Extraia os atos deste livro.")
	req.Attachments = []Attachment{{MIMEType: "application/pdf", Data: pdf}}
	var answer struct {
		Atos []draftAnswer `json:"atos"`
	}
	if err := f.runJSON(ctx, FlowProcessLivroPdf, req, &answer); err != nil {
		return nil, err
	}
	drafts := []DraftAto{}
	for _, raw := range answer.Atos {
		a := raw.DraftAto
		if strings.TrimSpace(a.Conteudo) == "" && len(a.Partes) == 0 {
			continue
		}
		if raw.Emolumentos != nil {
			if v, err := utils.ParseMoney(raw.Emolumentos); err == nil {
				a.Emolumentos = v
			}
		}
		a.Tipo = strings.TrimSpace(a.Tipo)
		a.Folha = strings.TrimSpace(a.Folha)
		drafts = append(drafts, a)
	}
	return drafts, nil
}
