package aiflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cartorio-digital/cartorio_backend/utils"
)

type fakeGenerator struct {
	answers  []string
	err      error
	requests []Request
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) (*Completion, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.answers) == 0 {
		return nil, errors.New("no scripted answer")
	}
	a := g.answers[0]
	g.answers = g.answers[1:]
	return &Completion{Text: a, Model: "fake-model", InputTokens: 10, OutputTokens: len(a)}, nil
}

type fakePrompts map[string]string

func (p fakePrompts) Prompt(_ context.Context, key string) (string, error) {
	if v, ok := p[key]; ok {
		return v, nil
	}
	return "prompt for " + key, nil
}

func newFlows(g *fakeGenerator) *Flows {
	return New(g, fakePrompts{})
}

func TestExtractActDetailsDecodesAndSanitizes(t *testing.T) {
	g := &fakeGenerator{answers: []string{"```json\n" + `{
		"partes": [
			{"nome": " Maria Silva ", "tipo": "pf", "detalhes": [
				{"label": "Estado Civil", "value": "solteira"},
				{"label": "RG", "value": "99.888.777-6"},
				{"label": "Profissão", "value": "  "}
			]},
			{"nome": "", "detalhes": [{"label": "CPF", "value": "1"}]}
		],
		"detalhesGerais": [{"label": "Valor", "value": "R$ 100.000,00"}]
	}` + "\n```"}}

	ex, err := newFlows(g).ExtractActDetails(context.Background(), "texto do ato")
	if err != nil {
		t.Fatalf("ExtractActDetails: %v", err)
	}
	if len(ex.Partes) != 1 {
		t.Fatalf("expected the unnamed party dropped, got %+v", ex.Partes)
	}
	p := ex.Partes[0]
	if p.Nome != "Maria Silva" || p.Tipo != "PF" || len(p.Detalhes) != 2 {
		t.Fatalf("unexpected party %+v", p)
	}
	if len(ex.DetalhesGerais) != 1 {
		t.Fatalf("unexpected general details %+v", ex.DetalhesGerais)
	}
	if len(g.requests) != 1 || !g.requests[0].JSON {
		t.Fatalf("expected one JSON request, got %+v", g.requests)
	}
	if g.requests[0].System != "prompt for extractActDetails" {
		t.Fatalf("system prompt not resolved: %q", g.requests[0].System)
	}
}

func TestExtractActDetailsEmptyTextSkipsModel(t *testing.T) {
	g := &fakeGenerator{}
	ex, err := newFlows(g).ExtractActDetails(context.Background(), "   ")
	if err != nil || !ex.IsEmpty() {
		t.Fatalf("expected empty extraction, got %+v (%v)", ex, err)
	}
	if len(g.requests) != 0 {
		t.Fatalf("model must not be called for empty text")
	}
}

func TestFlowFailuresWrapErrFlowFailed(t *testing.T) {
	g := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err := newFlows(g).ExtractActDetails(context.Background(), "texto")
	if !errors.Is(err, ErrFlowFailed) {
		t.Fatalf("expected ErrFlowFailed, got %v", err)
	}

	g = &fakeGenerator{answers: []string{"not json"}}
	_, err = newFlows(g).ExtractActDetails(context.Background(), "texto")
	if !errors.Is(err, ErrFlowFailed) {
		t.Fatalf("expected ErrFlowFailed for bad JSON, got %v", err)
	}

	var disabled *Flows = New(nil, fakePrompts{})
	if disabled.Enabled() {
		t.Fatalf("flows without generator must be disabled")
	}
	if _, err := disabled.SummarizeClientHistory(context.Background(), "x"); !errors.Is(err, ErrFlowFailed) {
		t.Fatalf("expected ErrFlowFailed without generator, got %v", err)
	}
}

func TestCancelledContextIsNotAFlowFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &fakeGenerator{err: context.Canceled}
	_, err := newFlows(g).SummarizeClientHistory(ctx, "histórico")
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrFlowFailed) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCheckMinuteDataCollectsRemarks(t *testing.T) {
	g := &fakeGenerator{answers: []string{
		`{"partes":[{"nome":"Maria Silva","detalhes":[{"label":"RG","value":"1"}]}]}`,
		`{"geral":["Valor por extenso diverge do numérico", "  "]}`,
	}}
	out, err := newFlows(g).CheckMinuteData(context.Background(), MinuteCheckInput{Texto: "minuta"})
	if err != nil {
		t.Fatalf("CheckMinuteData: %v", err)
	}
	if len(out.Extraction.Partes) != 1 || len(out.Geral) != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	if !strings.Contains(g.requests[1].Messages[0].Text, "minuta") {
		t.Fatalf("remarks request should carry the minute text")
	}
}

func TestSemanticSearchDropsUnknownIds(t *testing.T) {
	g := &fakeGenerator{answers: []string{`{"resultados":[{"id":3,"motivo":"compra e venda"},{"id":99},{"id":3},{"id":1,"motivo":" x "}]}`}}
	hits, err := newFlows(g).SemanticSearch(context.Background(), "compra", []SearchCandidate{{ID: 1}, {ID: 3}})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != 3 || hits[1].ID != 1 || hits[1].Motivo != "x" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestAutomatedValidationHighSeverityInvalidates(t *testing.T) {
	g := &fakeGenerator{answers: []string{`{"valido":true,"problemas":[{"severidade":"alta","descricao":"Falta CPF"},{"severidade":"?","descricao":"Folha"}]}`}}
	report, err := newFlows(g).AutomatedValidation(context.Background(), "texto")
	if err != nil {
		t.Fatalf("AutomatedValidation: %v", err)
	}
	if report.Valido {
		t.Fatalf("high severity problem must invalidate the act")
	}
	if report.Problemas[1].Severidade != SeverityMedia {
		t.Fatalf("unknown severity should default to media, got %s", report.Problemas[1].Severidade)
	}
}

func TestProcessLivroPdfSendsAttachment(t *testing.T) {
	g := &fakeGenerator{answers: []string{`{"atos":[{"numero":12,"tipo":" Procuração ","partes":["Ana"],"conteudo":"...","emolumentos":"R$ 1.234,50"},{"numero":13}]}`}}
	drafts, err := newFlows(g).ProcessLivroPdf(context.Background(), []byte("%PDF-1.7 fake"))
	if err != nil {
		t.Fatalf("ProcessLivroPdf: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Tipo != "Procuração" {
		t.Fatalf("unexpected drafts %+v", drafts)
	}
	if got := drafts[0].Emolumentos.StringFixed(2); got != "1234.50" {
		t.Fatalf("emolumentos = %s", got)
	}
	if a := g.requests[0].Attachments; len(a) != 1 || a[0].MIMEType != "application/pdf" {
		t.Fatalf("pdf attachment missing: %+v", a)
	}

	if _, err := newFlows(&fakeGenerator{}).ProcessLivroPdf(context.Background(), []byte("hello")); !errors.Is(err, ErrNotPdf) {
		t.Fatalf("expected ErrNotPdf, got %v", err)
	}
}

func TestGenerateConvoTitleTidies(t *testing.T) {
	g := &fakeGenerator{answers: []string{"\"Escritura de inventário\"\nextra line"}}
	title, err := newFlows(g).GenerateConvoTitle(context.Background(), "Como faço um inventário?")
	if err != nil {
		t.Fatalf("GenerateConvoTitle: %v", err)
	}
	if title != "Escritura de inventário" {
		t.Fatalf("unexpected title %q", title)
	}
	long := strings.Repeat("palavra ", 30)
	if got := FallbackTitle(long); len([]rune(got)) > maxTitleRunes+1 {
		t.Fatalf("fallback title too long: %q", got)
	}
}

func TestConversationalAgentKeepsRecentHistory(t *testing.T) {
	g := &fakeGenerator{answers: []string{" resposta "}}
	var history []Message
	for i := 0; i < 40; i++ {
		history = append(history, Message{Role: RoleUser, Text: "q"}, Message{Role: RoleModel, Text: "a"})
	}
	reply, err := newFlows(g).ConversationalAgent(context.Background(), history, "nova pergunta")
	if err != nil || reply != "resposta" {
		t.Fatalf("unexpected reply %q (%v)", reply, err)
	}
	msgs := g.requests[0].Messages
	if len(msgs) != maxAgentHistory+1 || msgs[len(msgs)-1].Text != "nova pergunta" {
		t.Fatalf("unexpected message window: %d messages", len(msgs))
	}
}

type usageLog struct {
	entries []Usage
}

func (l *usageLog) RecordUsage(_ context.Context, u Usage) {
	l.entries = append(l.entries, u)
}

func TestRunReportsUsage(t *testing.T) {
	log := &usageLog{}
	g := &fakeGenerator{answers: []string{" resumo "}}
	f := newFlows(g).WithUsageRecorder(log)
	ctx := WithOperation(utils.SetUserIdInContext(context.Background(), 7), "client:3")
	if _, err := f.SummarizeClientHistory(ctx, "histórico do cliente"); err != nil {
		t.Fatalf("SummarizeClientHistory: %v", err)
	}
	if len(log.entries) != 1 {
		t.Fatalf("expected one usage entry, got %d", len(log.entries))
	}
	u := log.entries[0]
	if u.Flow != FlowSummarizeClientHistory || u.Operation != "client:3" || u.UserId != 7 {
		t.Fatalf("unexpected attribution %+v", u)
	}
	if u.Status != UsageSuccess || u.Model != "fake-model" || u.InputTokens != 10 || u.ResponseBytes != len(" resumo ") {
		t.Fatalf("unexpected usage %+v", u)
	}
	if u.Prompt != "histórico do cliente" || u.RequestBytes < len(u.Prompt) {
		t.Fatalf("request not measured: %+v", u)
	}

	g.err = errors.New("quota exceeded")
	_, _ = f.SummarizeClientHistory(context.Background(), "x")
	if got := log.entries[1]; got.Status != UsageError || got.Error != "quota exceeded" || got.Model != "" {
		t.Fatalf("failure not recorded: %+v", got)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	g.err = context.Canceled
	_, _ = f.SummarizeClientHistory(cancelled, "x")
	if got := log.entries[2]; got.Status != UsageCancelled {
		t.Fatalf("cancellation recorded as %q", got.Status)
	}

	// empty input never reaches the model, so nothing is recorded
	_, _ = f.SummarizeClientHistory(context.Background(), " ")
	if len(log.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log.entries))
	}
}
