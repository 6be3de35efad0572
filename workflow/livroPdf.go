package workflow

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LivroPdfStore keeps the processing state of a livro's scan.
type LivroPdfStore interface {
	Attach(ctx context.Context, livroId int, key string) error
	Claim(ctx context.Context, livroId int, requirePdf bool, force bool) (*models.Livro, error)
	Finish(ctx context.Context, livroId int, drafts []aiflows.DraftAto, failure error) error
}

// PdfObjects stores the scans. Enabled is false without a bucket; uploads are
// then processed but not kept, so they cannot be reprocessed.
type PdfObjects interface {
	Enabled() bool
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type PdfReader interface {
	ProcessLivroPdf(ctx context.Context, pdf []byte) ([]aiflows.DraftAto, error)
}

type DBLivroPdfStore struct{}

func (DBLivroPdfStore) Attach(ctx context.Context, livroId int, key string) error {
	return models.AttachLivroPdf(ctx, livroId, key)
}

func (DBLivroPdfStore) Claim(ctx context.Context, livroId int, requirePdf bool, force bool) (*models.Livro, error) {
	return models.ClaimLivroProcessing(ctx, livroId, requirePdf, force, time.Now())
}

func (DBLivroPdfStore) Finish(ctx context.Context, livroId int, drafts []aiflows.DraftAto, failure error) error {
	return models.FinishLivroProcessing(ctx, livroId, drafts, failure, time.Now())
}

type GCSPdfObjects struct{}

func (GCSPdfObjects) Enabled() bool {
	return config.EnvString("GCS_BUCKET", "") != ""
}

func (GCSPdfObjects) Put(ctx context.Context, key string, data []byte) error {
	return utils.UploadBytesToGCS(ctx, key, data, "application/pdf")
}

func (GCSPdfObjects) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := utils.ReadObjectFromGCS(ctx, key)
	return data, err
}

type ReprocessResult struct {
	LivroId int    `json:"livroId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// LivroPdfProcessor runs the processLivroPdf flow and records its outcome on the livro.
type LivroPdfProcessor struct {
	store   LivroPdfStore
	objects PdfObjects
	reader  PdfReader
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewLivroPdfProcessor(store LivroPdfStore, objects PdfObjects, reader PdfReader) *LivroPdfProcessor {
	return &LivroPdfProcessor{
		store:   store,
		objects: objects,
		reader:  reader,
		logger:  config.GetLogger(),
	}
}

func pdfObjectKey(livroId int) string {
	return fmt.Sprintf("livros/%d/%s.pdf", livroId, uuid.NewString())
}

// Upload keeps the scan (when storage is configured) and reads it right away.
func (p *LivroPdfProcessor) Upload(ctx context.Context, livroId int, pdf []byte) ([]aiflows.DraftAto, error) {
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, aiflows.ErrNotPdf
	}
	if _, err := p.store.Claim(ctx, livroId, false, false); err != nil {
		return nil, err
	}
	if p.objects.Enabled() {
		key := pdfObjectKey(livroId)
		err := p.objects.Put(ctx, key, pdf)
		if err == nil {
			err = p.store.Attach(ctx, livroId, key)
		}
		if err != nil {
			p.finish(ctx, livroId, nil, err)
			return nil, err
		}
	}
	return p.process(ctx, livroId, pdf)
}

// Reprocess reads the stored scan again in the background.
func (p *LivroPdfProcessor) Reprocess(ctx context.Context, livroId int, force bool) (*ReprocessResult, error) {
	livro, err := p.store.Claim(ctx, livroId, true, force)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pdf, err := p.objects.Get(bg, livro.PdfKey)
		if err != nil {
			p.finish(bg, livroId, nil, err)
			return
		}
		_, _ = p.process(bg, livroId, pdf)
	}()
	return &ReprocessResult{
		LivroId: livroId,
		Status:  "reprocessing_started",
		Message: fmt.Sprintf("Reprocessamento do livro %d iniciado", livroId),
	}, nil
}

// Wait blocks until background runs finish; used on shutdown and in tests.
func (p *LivroPdfProcessor) Wait() {
	p.wg.Wait()
}

func (p *LivroPdfProcessor) process(ctx context.Context, livroId int, pdf []byte) ([]aiflows.DraftAto, error) {
	drafts, err := p.reader.ProcessLivroPdf(aiflows.WithOperation(ctx, models.LivroOperation(livroId)), pdf)
	p.finish(ctx, livroId, drafts, err)
	return drafts, err
}

// finish outlives the request; an abandoned run must not stay processando.
func (p *LivroPdfProcessor) finish(ctx context.Context, livroId int, drafts []aiflows.DraftAto, failure error) {
	if err := p.store.Finish(context.WithoutCancel(ctx), livroId, drafts, failure); err != nil {
		p.logger.WithFields(logrus.Fields{
			"field":   "livroPdf",
			"livroId": livroId,
		}).Error("record processing outcome: " + err.Error())
	}
	if failure != nil {
		p.logger.WithFields(logrus.Fields{
			"field":   "livroPdf",
			"livroId": livroId,
		}).Warn("pdf processing failed: " + failure.Error())
	}
}
