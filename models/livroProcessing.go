package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
)

var (
	ErrLivroProcessing = errors.New("livro pdf is already being processed")
	ErrLivroSemPdf     = utils.NewValidationError("pdf", "livro has no pdf to reprocess")
)

// LivroOperation is the usage-log reference of a livro's PDF runs.
func LivroOperation(livroId int) string {
	return fmt.Sprintf("livro:%d", livroId)
}

// GetLivroByNumeroAno finds a book by number and year. tipo is required only
// when the same number and year exist for more than one tipo.
func GetLivroByNumeroAno(ctx context.Context, numero int, ano int, tipo string) (*Livro, error) {
	if numero <= 0 || ano <= 0 {
		return nil, utils.NewValidationError("numero", "numero and ano must be positive")
	}
	db := config.GetDB().WithContext(ctx).Where("numero = ? AND ano = ?", numero, ano)
	if tipo != "" {
		db = db.Where("tipo = ?", tipo)
	}
	var ids []int
	if err := db.Model(&Livro{}).Order("id").Limit(2).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	switch len(ids) {
	case 0:
		return nil, utils.ErrorRecordNotFound
	case 1:
		return GetLivro(ctx, ids[0])
	}
	return nil, utils.NewValidationError("tipo", "more than one livro has this numero and ano; pass tipo")
}

type LivroStats struct {
	Total     int64         `json:"total"`
	PorStatus []*CountByKey `json:"porStatus"`
	PorTipo   []*CountByKey `json:"porTipo"`
	// the five years with most books
	PorAno      []*CountByKey `json:"porAno"`
	ComPdf      int64         `json:"comPdf"`
	Processados int64         `json:"processados"`
	// processados over comPdf, in percent with two decimals
	TaxaProcessamento float64 `json:"taxaProcessamento"`
}

func GetLivroStats(ctx context.Context) (*LivroStats, error) {
	db := config.GetDB()
	stats := &LivroStats{}
	if err := db.WithContext(ctx).Model(&Livro{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	for _, g := range []struct {
		column string
		order  string
		limit  int
		out    *[]*CountByKey
	}{
		{"status", "`key`", 0, &stats.PorStatus},
		{"tipo", "`key`", 0, &stats.PorTipo},
		{"ano", "count DESC, `key` DESC", 5, &stats.PorAno},
	} {
		q := db.WithContext(ctx).Model(&Livro{}).
			Select(g.column + " AS `key`, COUNT(*) AS count").
			Group(g.column).Order(g.order)
		if g.column == "ano" {
			q = q.Where("ano > 0")
		}
		if g.limit > 0 {
			q = q.Limit(g.limit)
		}
		if err := q.Scan(g.out).Error; err != nil {
			return nil, err
		}
	}
	if err := db.WithContext(ctx).Model(&Livro{}).Where("pdf_key <> ''").Count(&stats.ComPdf).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&Livro{}).
		Where("pdf_key <> '' AND processing_status = ?", LivroProcessingConcluido).
		Count(&stats.Processados).Error; err != nil {
		return nil, err
	}
	stats.TaxaProcessamento = processingRate(stats.Processados, stats.ComPdf)
	return stats, nil
}

func processingRate(processados int64, comPdf int64) float64 {
	if comPdf == 0 {
		return 0
	}
	return math.Round(float64(processados)/float64(comPdf)*10000) / 100
}

// AttachLivroPdf records the stored object of the book scan.
func AttachLivroPdf(ctx context.Context, livroId int, key string) error {
	return config.GetDB().WithContext(ctx).Model(&Livro{ID: livroId}).Update("pdf_key", key).Error
}

// ClaimLivroProcessing moves the book to processando. A run already in
// progress is only taken over with force.
func ClaimLivroProcessing(ctx context.Context, livroId int, requirePdf bool, force bool, now time.Time) (*Livro, error) {
	livro, err := GetLivro(ctx, livroId)
	if err != nil {
		return nil, err
	}
	if requirePdf && livro.PdfKey == "" {
		return nil, ErrLivroSemPdf
	}
	q := config.GetDB().WithContext(ctx).Model(&Livro{}).Where("id = ?", livroId)
	if !force {
		q = q.Where("processing_status IS NULL OR processing_status <> ?", LivroProcessingProcessando)
	}
	// started_at always changes, so a forced claim still counts as one affected row
	res := q.Updates(map[string]interface{}{
		"processing_status":     LivroProcessingProcessando,
		"processing_error":      "",
		"processing_started_at": now,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLivroProcessing
	}
	livro.ProcessingStatus = LivroProcessingProcessando
	livro.ProcessingStartedAt = &now
	return livro, nil
}

// FinishLivroProcessing stores the outcome of a run started with ClaimLivroProcessing.
func FinishLivroProcessing(ctx context.Context, livroId int, drafts []aiflows.DraftAto, failure error, now time.Time) error {
	updates := map[string]interface{}{}
	if failure != nil {
		updates["processing_status"] = LivroProcessingErro
		updates["processing_error"] = failure.Error()
	} else {
		body, err := json.Marshal(drafts)
		if err != nil {
			return err
		}
		updates["processing_status"] = LivroProcessingConcluido
		updates["processing_error"] = ""
		updates["processed_at"] = now
		updates["processing_drafts"] = string(body)
	}
	return config.GetDB().WithContext(ctx).Model(&Livro{ID: livroId}).Updates(updates).Error
}

type LivroAtosStats struct {
	Total       int64 `json:"total"`
	ComExtracao int64 `json:"comExtracao"`
}

type LivroProcessingStatus struct {
	LivroId     int                `json:"livroId"`
	Status      LivroProcessing    `json:"status"`
	HasPdf      bool               `json:"hasPdf"`
	Error       string             `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	ProcessedAt *time.Time         `json:"processedAt,omitempty"`
	Drafts      []aiflows.DraftAto `json:"drafts"`
	Atos        LivroAtosStats     `json:"atos"`
	AiLogs      []*AiUsageLog      `json:"aiLogs"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

func GetLivroProcessingStatus(ctx context.Context, livroId int) (*LivroProcessingStatus, error) {
	livro, err := GetLivro(ctx, livroId)
	if err != nil {
		return nil, err
	}
	out := &LivroProcessingStatus{
		LivroId:     livro.ID,
		Status:      livro.ProcessingStatus,
		HasPdf:      livro.PdfKey != "",
		Error:       livro.ProcessingError,
		StartedAt:   livro.ProcessingStartedAt,
		ProcessedAt: livro.ProcessedAt,
		Drafts:      []aiflows.DraftAto{},
		Atos:        LivroAtosStats{Total: livro.TotalAtos},
		LastUpdated: livro.UpdatedAt,
	}
	if livro.ProcessingDrafts != "" {
		if err := json.Unmarshal([]byte(livro.ProcessingDrafts), &out.Drafts); err != nil {
			config.LogError(config.GetLogger(), "Livro", "GetLivroProcessingStatus", "Unmarshal", livroId, err)
		}
	}
	if out.Atos.ComExtracao, err = utils.ResourceCountWhere[Ato](ctx, "livro_id = ? AND dados_extraidos IS NOT NULL", livroId); err != nil {
		return nil, err
	}
	if out.AiLogs, err = ListOperationUsage(ctx, aiflows.FlowProcessLivroPdf, LivroOperation(livroId)); err != nil {
		return nil, err
	}
	return out, nil
}
