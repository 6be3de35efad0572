package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
)

// DB-free: fakeRegistry keeps the registry in memory and applies a commit
// all-or-nothing, like the transaction in models.CommitClientFields.

type fakeEvent struct {
	clientId int
	autor    string
}

type fakeRegistry struct {
	mu        sync.Mutex
	clients   map[int]*reconcile.Profile
	atos      map[int]*models.Ato
	events    []fakeEvent
	failWrite bool
	saves     int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		clients: map[int]*reconcile.Profile{
			1: {ID: 1, Nome: "Maria Silva", DadosAdicionais: []reconcile.Field{
				{Label: "Estado Civil", Value: "Casada"},
				{Label: "Profissão", Value: "Engenheira"},
			}},
			2: {ID: 2, Nome: "João Souza"},
		},
		atos: map[int]*models.Ato{
			10: {ID: 10, Conteudo: "Escritura de compra e venda"},
		},
	}
}

func (r *fakeRegistry) ProfilesByNames(_ context.Context, nomes []string) ([]reconcile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reconcile.Profile
	for _, p := range r.clients {
		for _, n := range nomes {
			if reconcile.Fold(n) == reconcile.Fold(p.Nome) {
				cp := *p
				cp.DadosAdicionais = append([]reconcile.Field(nil), p.DadosAdicionais...)
				out = append(out, cp)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRegistry) CommitFields(_ context.Context, clientId int, fields []reconcile.Field, author string) (*models.CommitFieldsResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[clientId]
	if !ok {
		return nil, errors.New("record not found")
	}
	merged, changed := reconcile.UpsertFields(p.DadosAdicionais, fields)
	if r.failWrite {
		return nil, errors.New("write failed")
	}
	p.DadosAdicionais = merged
	r.events = append(r.events, fakeEvent{clientId: clientId, autor: author})
	return &models.CommitFieldsResult{ClientId: clientId, Changed: changed}, nil
}

func (r *fakeRegistry) GetAto(_ context.Context, atoId int) (*models.Ato, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.atos[atoId]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRegistry) SaveExtraction(_ context.Context, atoId int, conteudo string, ex reconcile.Extraction, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.atos[atoId]
	if a.DadosExtraidos != nil || a.Conteudo != conteudo {
		return false, nil
	}
	r.saves++
	data := models.ExtractionData(ex)
	a.DadosExtraidos = &data
	return true, nil
}

// editAto mirrors models.UpdateAto: new content drops the cached extraction.
func (r *fakeRegistry) editAto(atoId int, conteudo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.atos[atoId]
	if a.Conteudo != conteudo {
		a.DadosExtraidos = nil
	}
	a.Conteudo = conteudo
}

type fakeExtractor struct {
	ex     reconcile.Extraction
	geral  []string
	err    error
	calls  int
	during func()
}

func (f *fakeExtractor) ExtractActDetails(_ context.Context, _ string) (reconcile.Extraction, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.ex, f.err
}

func (f *fakeExtractor) CheckMinuteData(ctx context.Context, in aiflows.MinuteCheckInput) (*aiflows.MinuteCheckOutput, error) {
	ex, err := f.ExtractActDetails(ctx, in.Texto)
	if err != nil {
		return nil, err
	}
	return &aiflows.MinuteCheckOutput{Extraction: ex, Geral: f.geral}, nil
}

func mariaExtraction() reconcile.Extraction {
	return reconcile.Extraction{Partes: []reconcile.Party{{
		Nome: "Maria Silva",
		Detalhes: []reconcile.Field{
			{Label: "Estado Civil", Value: "Divorciada"},
			{Label: "Profissão", Value: "engenheira"},
			{Label: "RG", Value: "12.345.678-9"},
		},
	}}}
}

func TestExtractActManualCachesWithoutCommitting(t *testing.T) {
	reg := newFakeRegistry()
	ext := &fakeExtractor{ex: mariaExtraction()}
	s := NewClientSync(reg, ext, NewRequestGuard())

	res, err := s.ExtractAct(context.Background(), 10, SyncManual, reconcile.Options{NormalizeNames: true})
	if err != nil {
		t.Fatalf("ExtractAct: %v", err)
	}
	if res.Cached || res.Stale || len(res.Committed) != 0 {
		t.Fatalf("unexpected flags %+v", res)
	}
	if reg.atos[10].DadosExtraidos == nil {
		t.Fatalf("extraction should be cached on the act")
	}
	if len(reg.events) != 0 {
		t.Fatalf("manual mode must not write client events")
	}
	if len(res.Report.ClientChecks) != 1 || len(res.Report.ClientChecks[0].Selectable()) != 2 {
		t.Fatalf("unexpected report %+v", res.Report)
	}

	again, err := s.ExtractAct(context.Background(), 10, SyncManual, reconcile.Options{})
	if err != nil || !again.Cached {
		t.Fatalf("second call should use the cache: %+v %v", again, err)
	}
	if ext.calls != 1 {
		t.Fatalf("model called %d times, want 1", ext.calls)
	}
}

func TestExtractActAutoCommitsWithSystemAuthor(t *testing.T) {
	reg := newFakeRegistry()
	s := NewClientSync(reg, &fakeExtractor{ex: mariaExtraction()}, NewRequestGuard())

	res, err := s.ExtractAct(context.Background(), 10, SyncAuto, reconcile.Options{})
	if err != nil {
		t.Fatalf("ExtractAct: %v", err)
	}
	if len(res.Committed) != 1 || len(reg.events) != 1 {
		t.Fatalf("expected one commit and one event, got %d/%d", len(res.Committed), len(reg.events))
	}
	if reg.events[0].autor != "Sistema (Extração de Ato)" {
		t.Fatalf("unexpected author %q", reg.events[0].autor)
	}
	got := map[string]string{}
	for _, f := range reg.clients[1].DadosAdicionais {
		got[f.Label] = f.Value
	}
	if got["Estado Civil"] != "Divorciada" || got["RG"] != "12.345.678-9" || got["Profissão"] != "Engenheira" {
		t.Fatalf("unexpected fields after auto sync %+v", got)
	}
}

func TestExtractActStaleResultIsNotWritten(t *testing.T) {
	reg := newFakeRegistry()
	guard := NewRequestGuard()
	ext := &fakeExtractor{ex: mariaExtraction()}
	// a newer request on the same act starts while the model is answering
	ext.during = func() { guard.Begin(context.Background(), "ato:10") }
	s := NewClientSync(reg, ext, guard)

	res, err := s.ExtractAct(context.Background(), 10, SyncAuto, reconcile.Options{})
	if err != nil {
		t.Fatalf("ExtractAct: %v", err)
	}
	if !res.Stale {
		t.Fatalf("result should be stale")
	}
	if reg.saves != 0 || len(reg.events) != 0 {
		t.Fatalf("stale result must not be written: saves=%d events=%d", reg.saves, len(reg.events))
	}
}

func TestExtractActEditedContentIsNotCached(t *testing.T) {
	reg := newFakeRegistry()
	ext := &fakeExtractor{ex: mariaExtraction()}
	// the act is edited while the model reads the previous text
	ext.during = func() { reg.editAto(10, "Escritura de doação") }
	s := NewClientSync(reg, ext, NewRequestGuard())

	res, err := s.ExtractAct(context.Background(), 10, SyncAuto, reconcile.Options{})
	if err != nil {
		t.Fatalf("ExtractAct: %v", err)
	}
	if !res.Stale || res.Cached {
		t.Fatalf("extraction of replaced content should be stale, got stale=%v cached=%v", res.Stale, res.Cached)
	}
	if reg.atos[10].DadosExtraidos != nil || len(reg.events) != 0 {
		t.Fatalf("extraction of replaced content must not be written")
	}

	// the next request extracts the new content
	ext.during = nil
	res, err = s.ExtractAct(context.Background(), 10, SyncManual, reconcile.Options{})
	if err != nil {
		t.Fatalf("ExtractAct: %v", err)
	}
	if res.Stale || reg.atos[10].DadosExtraidos == nil {
		t.Fatalf("fresh extraction should be cached, got %+v", res)
	}
}

func TestExtractActCancelledWritesNothing(t *testing.T) {
	reg := newFakeRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ext := &fakeExtractor{ex: mariaExtraction(), during: cancel}
	s := NewClientSync(reg, ext, NewRequestGuard())

	if _, err := s.ExtractAct(ctx, 10, SyncAuto, reconcile.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if reg.saves != 0 || len(reg.events) != 0 {
		t.Fatalf("cancelled request wrote state")
	}
}

func TestExtractActFlowFailure(t *testing.T) {
	reg := newFakeRegistry()
	s := NewClientSync(reg, &fakeExtractor{err: aiflows.ErrFlowFailed}, NewRequestGuard())
	if _, err := s.ExtractAct(context.Background(), 10, SyncAuto, reconcile.Options{}); !errors.Is(err, aiflows.ErrFlowFailed) {
		t.Fatalf("expected ErrFlowFailed, got %v", err)
	}
	if reg.atos[10].DadosExtraidos != nil {
		t.Fatalf("failed extraction must not be cached")
	}
}

func TestVerifyActRequiresExtraction(t *testing.T) {
	s := NewClientSync(newFakeRegistry(), &fakeExtractor{}, nil)
	if _, err := s.VerifyAct(context.Background(), 10, reconcile.Options{}); err == nil {
		t.Fatalf("expected an error for an act without extraction")
	}
}

func TestCommitSelectedFailureLeavesRegistryUntouched(t *testing.T) {
	reg := newFakeRegistry()
	reg.failWrite = true
	s := NewClientSync(reg, &fakeExtractor{}, nil)

	_, err := s.CommitSelected(context.Background(), 1, []reconcile.Field{{Label: "RG", Value: "1"}}, "escrevente")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(reg.events) != 0 || len(reg.clients[1].DadosAdicionais) != 2 {
		t.Fatalf("failed commit changed the registry")
	}

	reg.failWrite = false
	res, err := s.CommitSelected(context.Background(), 1, []reconcile.Field{{Label: "RG", Value: "1"}, {Label: "Estado Civil", Value: "Viúva"}}, "escrevente")
	if err != nil {
		t.Fatalf("CommitSelected: %v", err)
	}
	if len(res.Changed) != 2 || len(reg.events) != 1 || reg.events[0].autor != "escrevente" {
		t.Fatalf("expected one event by escrevente, got %+v", reg.events)
	}
}

func TestCheckMinuteRequireMatch(t *testing.T) {
	reg := newFakeRegistry()
	ext := &fakeExtractor{
		ex:    reconcile.Extraction{Partes: []reconcile.Party{{Nome: "Pedro Alves"}}},
		geral: []string{"Falta a data do ato"},
	}
	s := NewClientSync(reg, ext, nil)
	strict := true

	res, err := s.CheckMinute(context.Background(), "ana", MinuteCheckRequest{Texto: "minuta", RequireMatch: &strict}, reconcile.Options{})
	if !errors.Is(err, reconcile.ErrNoMatchingClients) {
		t.Fatalf("expected ErrNoMatchingClients, got %v", err)
	}
	if res == nil || res.Report == nil || len(res.Report.Unmatched) != 1 {
		t.Fatalf("report should be returned with the error: %+v", res)
	}
	found := false
	for _, g := range res.Report.Geral {
		if strings.Contains(g, "Falta a data") {
			found = true
		}
	}
	if !found {
		t.Fatalf("model remarks missing from geral: %v", res.Report.Geral)
	}

	res, err = s.CheckMinute(context.Background(), "ana", MinuteCheckRequest{Texto: "minuta"}, reconcile.Options{})
	if err != nil || res.Stale {
		t.Fatalf("lenient check failed: %+v %v", res, err)
	}
}

func TestCheckMinuteValidatesText(t *testing.T) {
	s := NewClientSync(newFakeRegistry(), &fakeExtractor{}, nil)
	if _, err := s.CheckMinute(context.Background(), "ana", MinuteCheckRequest{}, reconcile.Options{}); err == nil {
		t.Fatalf("expected validation error for empty text")
	}
}

func TestRequestGuardInMemory(t *testing.T) {
	g := NewRequestGuard()
	ctx := context.Background()
	first := g.Begin(ctx, "ato:1")
	other := g.Begin(ctx, "ato:2")
	if !g.IsLatest(ctx, first) || !g.IsLatest(ctx, other) {
		t.Fatalf("independent keys must not interfere")
	}
	second := g.Begin(ctx, "ato:1")
	if g.IsLatest(ctx, first) {
		t.Fatalf("first request should be stale")
	}
	if !g.IsLatest(ctx, second) || second.Seq <= first.Seq {
		t.Fatalf("sequence must increase: %d then %d", first.Seq, second.Seq)
	}
}

func TestParseSyncMode(t *testing.T) {
	cases := []struct {
		in      string
		want    SyncMode
		wantErr bool
	}{
		{"", SyncManual, false},
		{"auto", SyncAuto, false},
		{" Manual ", SyncManual, false},
		{"sometimes", "", true},
	}
	for _, c := range cases {
		got, err := ParseSyncMode(c.in, SyncManual)
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("ParseSyncMode(%q) = %q, %v", c.in, got, err)
		}
	}
}
