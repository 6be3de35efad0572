package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/models"
)

type finishCall struct {
	livroId int
	drafts  []aiflows.DraftAto
	failure error
	ctxErr  error
}

type fakePdfStore struct {
	mu       sync.Mutex
	livro    models.Livro
	claimErr error
	claims   int
	attached []string
	finished []finishCall
}

func (s *fakePdfStore) Attach(_ context.Context, _ int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, key)
	s.livro.PdfKey = key
	return nil
}

func (s *fakePdfStore) Claim(_ context.Context, livroId int, requirePdf bool, force bool) (*models.Livro, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if requirePdf && s.livro.PdfKey == "" {
		return nil, models.ErrLivroSemPdf
	}
	if s.livro.ProcessingStatus == models.LivroProcessingProcessando && !force {
		return nil, models.ErrLivroProcessing
	}
	s.claims++
	s.livro.ID = livroId
	s.livro.ProcessingStatus = models.LivroProcessingProcessando
	l := s.livro
	return &l, nil
}

func (s *fakePdfStore) Finish(ctx context.Context, livroId int, drafts []aiflows.DraftAto, failure error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, finishCall{livroId: livroId, drafts: drafts, failure: failure, ctxErr: ctx.Err()})
	s.livro.ProcessingStatus = models.LivroProcessingConcluido
	if failure != nil {
		s.livro.ProcessingStatus = models.LivroProcessingErro
	}
	return nil
}

type memObjects struct {
	enabled bool
	data    map[string][]byte
	getErr  error
}

func (m *memObjects) Enabled() bool { return m.enabled }

func (m *memObjects) Put(_ context.Context, key string, data []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data[key], nil
}

// scriptedGenerator answers every call with the same text.
type scriptedGenerator struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ aiflows.Request) (*aiflows.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &aiflows.Completion{Text: g.answer, Model: "fake"}, nil
}

type staticPrompts struct{}

func (staticPrompts) Prompt(_ context.Context, key string) (string, error) {
	return "prompt " + key, nil
}

type usageSink struct {
	mu      sync.Mutex
	entries []aiflows.Usage
}

func (u *usageSink) RecordUsage(_ context.Context, usage aiflows.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, usage)
}

const twoDrafts = `{"atos":[{"numero":1,"tipo":"Procuração","partes":["Ana"]},{"numero":2,"conteudo":"Escritura"}]}`

func newPdfProcessor(store *fakePdfStore, objects *memObjects, gen *scriptedGenerator, usage *usageSink) *LivroPdfProcessor {
	flows := aiflows.New(gen, staticPrompts{}).WithUsageRecorder(usage)
	return NewLivroPdfProcessor(store, objects, flows)
}

var livroScan = []byte("%PDF-1.7 livro 3")

func TestUploadStoresScanAndRecordsDrafts(t *testing.T) {
	store := &fakePdfStore{}
	objects := &memObjects{enabled: true}
	usage := &usageSink{}
	p := newPdfProcessor(store, objects, &scriptedGenerator{answer: twoDrafts}, usage)

	drafts, err := p.Upload(context.Background(), 3, livroScan)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %+v", drafts)
	}
	if len(store.attached) != 1 || string(objects.data[store.attached[0]]) != string(livroScan) {
		t.Fatalf("livroScan not stored: %v", store.attached)
	}
	if len(store.finished) != 1 || store.finished[0].failure != nil || len(store.finished[0].drafts) != 2 {
		t.Fatalf("unexpected outcome %+v", store.finished)
	}
	if len(usage.entries) != 1 || usage.entries[0].Operation != "livro:3" || usage.entries[0].Flow != aiflows.FlowProcessLivroPdf {
		t.Fatalf("usage not tagged with the livro: %+v", usage.entries)
	}
}

func TestUploadRejectsBeforeClaiming(t *testing.T) {
	store := &fakePdfStore{}
	gen := &scriptedGenerator{answer: twoDrafts}
	p := newPdfProcessor(store, &memObjects{}, gen, &usageSink{})

	if _, err := p.Upload(context.Background(), 3, []byte("not a pdf")); !errors.Is(err, aiflows.ErrNotPdf) {
		t.Fatalf("expected ErrNotPdf, got %v", err)
	}
	store.livro.ProcessingStatus = models.LivroProcessingProcessando
	if _, err := p.Upload(context.Background(), 3, livroScan); !errors.Is(err, models.ErrLivroProcessing) {
		t.Fatalf("expected ErrLivroProcessing, got %v", err)
	}
	if store.claims != 0 || gen.calls != 0 || len(store.finished) != 0 {
		t.Fatalf("rejected uploads reached the model: claims=%d calls=%d", store.claims, gen.calls)
	}
}

func TestUploadWithoutStorageCannotBeReprocessed(t *testing.T) {
	store := &fakePdfStore{}
	p := newPdfProcessor(store, &memObjects{enabled: false}, &scriptedGenerator{answer: twoDrafts}, &usageSink{})

	if _, err := p.Upload(context.Background(), 3, livroScan); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(store.attached) != 0 {
		t.Fatalf("nothing should be stored without a bucket")
	}
	if _, err := p.Reprocess(context.Background(), 3, false); !errors.Is(err, models.ErrLivroSemPdf) {
		t.Fatalf("expected ErrLivroSemPdf, got %v", err)
	}
}

func TestReprocessRunsInBackground(t *testing.T) {
	store := &fakePdfStore{livro: models.Livro{PdfKey: "livros/3/a.pdf", ProcessingStatus: models.LivroProcessingProcessando}}
	objects := &memObjects{enabled: true, data: map[string][]byte{"livros/3/a.pdf": livroScan}}
	gen := &scriptedGenerator{answer: twoDrafts}
	p := newPdfProcessor(store, objects, gen, &usageSink{})

	if _, err := p.Reprocess(context.Background(), 3, false); !errors.Is(err, models.ErrLivroProcessing) {
		t.Fatalf("expected ErrLivroProcessing without force, got %v", err)
	}

	// the request ends before the run does
	ctx, cancel := context.WithCancel(context.Background())
	res, err := p.Reprocess(ctx, 3, true)
	cancel()
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if res.LivroId != 3 || res.Status != "reprocessing_started" {
		t.Fatalf("unexpected result %+v", res)
	}
	p.Wait()

	if len(store.finished) != 1 {
		t.Fatalf("expected one finished run, got %+v", store.finished)
	}
	got := store.finished[0]
	if got.failure != nil || len(got.drafts) != 2 || got.ctxErr != nil {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one model call, got %d", gen.calls)
	}
}

func TestReprocessRecordsFailures(t *testing.T) {
	store := &fakePdfStore{livro: models.Livro{PdfKey: "livros/3/a.pdf"}}
	objects := &memObjects{enabled: true, getErr: errors.New("bucket unavailable")}
	gen := &scriptedGenerator{answer: twoDrafts}
	p := newPdfProcessor(store, objects, gen, &usageSink{})

	if _, err := p.Reprocess(context.Background(), 3, false); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	p.Wait()
	if len(store.finished) != 1 || store.finished[0].failure == nil || gen.calls != 0 {
		t.Fatalf("storage failure not recorded: %+v", store.finished)
	}
	if store.livro.ProcessingStatus != models.LivroProcessingErro {
		t.Fatalf("status = %q", store.livro.ProcessingStatus)
	}

	objects.getErr = nil
	objects.data = map[string][]byte{"livros/3/a.pdf": livroScan}
	gen.err = errors.New("quota exceeded")
	if _, err := p.Reprocess(context.Background(), 3, false); err != nil {
		t.Fatalf("Reprocess after error: %v", err)
	}
	p.Wait()
	if last := store.finished[len(store.finished)-1]; !errors.Is(last.failure, aiflows.ErrFlowFailed) {
		t.Fatalf("model failure not recorded: %+v", last)
	}
}
