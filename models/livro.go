package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"gorm.io/gorm"
)

type Livro struct {
	ID         int         `gorm:"primary_key" json:"id"`
	Numero     int         `gorm:"not null;uniqueIndex:idx_livro_tipo_numero,priority:2" json:"numero"`
	Tipo       string      `gorm:"size:100;not null;uniqueIndex:idx_livro_tipo_numero,priority:1" json:"tipo"`
	Ano        int         `gorm:"not null;default:0;index" json:"ano,omitempty"`
	Status     LivroStatus `gorm:"type:enum('aberto','fechado');not null;default:'aberto'" json:"status"`
	Observacao string      `gorm:"type:text" json:"observacao"`
	TotalAtos  int64       `gorm:"-" json:"totalAtos"`

	PdfKey              string          `gorm:"size:500" json:"pdfKey,omitempty"`
	ProcessingStatus    LivroProcessing `gorm:"size:20;index" json:"processingStatus,omitempty"`
	ProcessingError     string          `gorm:"type:text" json:"processingError,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	ProcessedAt         *time.Time      `json:"processedAt,omitempty"`
	// JSON of the last []aiflows.DraftAto read from the PDF
	ProcessingDrafts string `gorm:"type:mediumtext" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewLivro struct {
	Numero     int         `json:"numero" validate:"required,gt=0"`
	Ano        int         `json:"ano" validate:"omitempty,gte=1800,lte=2200"`
	Tipo       string      `json:"tipo" validate:"required,max=100"`
	Status     LivroStatus `json:"status"`
	Observacao string      `json:"observacao"`
}

func (input *NewLivro) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Status == "" {
		input.Status = LivroStatusAberto
	}
	if !input.Status.IsValid() {
		return utils.NewValidationError("status", "invalid livro status")
	}
	if err := ValidatePresetName(ctx, PresetKindTipoLivro, input.Tipo); err != nil {
		return err
	}
	count, err := utils.ResourceCountWhere[Livro](ctx, "tipo = ? AND numero = ? AND NOT id = ?", input.Tipo, input.Numero, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.NewValidationError("numero", "livro already exists for this tipo")
	}
	return nil
}

func CreateLivro(ctx context.Context, input *NewLivro) (*Livro, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}
	livro := Livro{
		Numero:     input.Numero,
		Ano:        input.Ano,
		Tipo:       strings.TrimSpace(input.Tipo),
		Status:     input.Status,
		Observacao: input.Observacao,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&livro).Error; err != nil {
		if config.IsDuplicateKey(err) {
			return nil, utils.NewValidationError("numero", "livro already exists for this tipo")
		}
		return nil, err
	}
	return &livro, nil
}

func GetLivro(ctx context.Context, id int) (*Livro, error) {
	livro, err := utils.FetchModel[Livro](ctx, id)
	if err != nil {
		return nil, err
	}
	if livro.TotalAtos, err = utils.ResourceCountWhere[Ato](ctx, "livro_id = ?", id); err != nil {
		return nil, err
	}
	return livro, nil
}

func ListLivros(ctx context.Context, tipo string, status *LivroStatus) ([]*Livro, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	if tipo != "" {
		dbCtx = dbCtx.Where("tipo = ?", tipo)
	}
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var results []*Livro
	if err := dbCtx.Omit("processing_drafts").Order("tipo, numero DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]int, 0, len(results))
	for _, l := range results {
		ids = append(ids, l.ID)
	}
	var counts []struct {
		LivroId int
		Total   int64
	}
	if err := db.WithContext(ctx).Model(&Ato{}).
		Select("livro_id, COUNT(*) AS total").
		Where("livro_id IN ?", ids).
		Group("livro_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byLivro := make(map[int]int64, len(counts))
	for _, c := range counts {
		byLivro[c.LivroId] = c.Total
	}
	for _, l := range results {
		l.TotalAtos = byLivro[l.ID]
	}
	return results, nil
}

func UpdateLivro(ctx context.Context, id int, input *NewLivro) (*Livro, error) {
	if err := utils.ValidateResourceId[Livro](ctx, id); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Livro{ID: id}).Updates(map[string]interface{}{
		"Numero":     input.Numero,
		"Ano":        input.Ano,
		"Tipo":       strings.TrimSpace(input.Tipo),
		"Status":     input.Status,
		"Observacao": input.Observacao,
	}).Error; err != nil {
		return nil, err
	}
	return GetLivro(ctx, id)
}

// DeleteLivro only removes empty books.
func DeleteLivro(ctx context.Context, id int) (*Livro, error) {
	livro, err := GetLivro(ctx, id)
	if err != nil {
		return nil, err
	}
	if livro.TotalAtos > 0 {
		return nil, utils.NewValidationError("livro", "livro has atos and cannot be deleted")
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(livro).Error; err != nil {
		return nil, err
	}
	return livro, nil
}

// checkLivroAberto fails when the book is closed for new or edited acts.
func checkLivroAberto(ctx context.Context, tx *gorm.DB, livroId int) error {
	var livro Livro
	if err := tx.WithContext(ctx).Select("id, status").First(&livro, livroId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if livro.Status != LivroStatusAberto {
		return utils.NewValidationError("livro", "livro is fechado")
	}
	return nil
}
