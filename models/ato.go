package models

import (
	"context"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StringList is stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// ExtractionData is the cached extraction stored on an act.
type ExtractionData reconcile.Extraction

func (e ExtractionData) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	return string(b), err
}

func (e *ExtractionData) Scan(value interface{}) error {
	return scanJSON(value, e)
}

func (e *ExtractionData) Extraction() reconcile.Extraction {
	if e == nil {
		return reconcile.Extraction{}
	}
	return reconcile.Extraction(*e)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	}
	return fmt.Errorf("unsupported json column type %T", value)
}

type Ato struct {
	ID             int             `gorm:"primary_key" json:"id"`
	LivroId        int             `gorm:"not null;uniqueIndex:idx_ato_livro_numero,priority:1" json:"livroId"`
	Numero         int             `gorm:"not null;uniqueIndex:idx_ato_livro_numero,priority:2" json:"numero"`
	Folha          string          `gorm:"size:20" json:"folha"`
	Tipo           string          `gorm:"size:100;not null;index" json:"tipo"`
	Data           time.Time       `gorm:"type:date;not null;index" json:"data"`
	Partes         StringList      `gorm:"type:json" json:"partes"`
	Conteudo       string          `gorm:"type:mediumtext" json:"conteudo"`
	ConteudoSha    string          `gorm:"size:64;not null;default:''" json:"-"`
	Emolumentos    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"emolumentos"`
	DadosExtraidos *ExtractionData `gorm:"type:json" json:"dadosExtraidos"`
	ExtraidoEm     *time.Time      `json:"extraidoEm"`
	Averbacoes     []*Averbacao    `gorm:"foreignKey:AtoId" json:"averbacoes"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (a Ato) GetId() int {
	return a.ID
}

// ContentHash fingerprints act content. An extraction is only cached while
// the stored hash still matches the text it was made from; the collation of
// conteudo ignores case, so the text itself cannot be compared in SQL.
func ContentHash(conteudo string) string {
	sum := sha256.Sum256([]byte(conteudo))
	return hex.EncodeToString(sum[:])
}

type NewAto struct {
	Numero      int             `json:"numero" validate:"required,gt=0"`
	Folha       string          `json:"folha" validate:"max=20"`
	Tipo        string          `json:"tipo" validate:"required,max=100"`
	Data        string          `json:"data" validate:"required"`
	Partes      []string        `json:"partes"`
	Conteudo    string          `json:"conteudo"`
	Emolumentos decimal.Decimal `json:"emolumentos"`
}

func (input *NewAto) parse(ctx context.Context, livroId int, id int) (time.Time, []string, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return time.Time{}, nil, err
	}
	data, ok := reconcile.ParseDate(input.Data)
	if !ok {
		return time.Time{}, nil, utils.NewValidationError("data", "invalid date")
	}
	if input.Emolumentos.IsNegative() {
		return time.Time{}, nil, utils.NewValidationError("emolumentos", "must not be negative")
	}
	if err := ValidatePresetName(ctx, PresetKindTipoAto, input.Tipo); err != nil {
		return time.Time{}, nil, err
	}
	count, err := utils.ResourceCountWhere[Ato](ctx, "livro_id = ? AND numero = ? AND NOT id = ?", livroId, input.Numero, id)
	if err != nil {
		return time.Time{}, nil, err
	}
	if count > 0 {
		return time.Time{}, nil, utils.NewValidationError("numero", "ato number already used in this livro")
	}
	var partes []string
	for _, p := range input.Partes {
		if p = strings.TrimSpace(p); p != "" {
			partes = append(partes, p)
		}
	}
	return data, utils.UniqueSlice(partes), nil
}

func CreateAto(ctx context.Context, livroId int, input *NewAto) (*Ato, error) {
	data, partes, err := input.parse(ctx, livroId, 0)
	if err != nil {
		return nil, err
	}
	ato := Ato{
		LivroId:     livroId,
		Numero:      input.Numero,
		Folha:       input.Folha,
		Tipo:        strings.TrimSpace(input.Tipo),
		Data:        data,
		Partes:      partes,
		Conteudo:    input.Conteudo,
		ConteudoSha: ContentHash(input.Conteudo),
		Emolumentos: input.Emolumentos.Round(2),
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := checkLivroAberto(ctx, tx, livroId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&ato).Error; err != nil {
		tx.Rollback()
		if config.IsDuplicateKey(err) {
			return nil, utils.NewValidationError("numero", "ato number already used in this livro")
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &ato, nil
}

func GetAto(ctx context.Context, id int) (*Ato, error) {
	return utils.FetchModel[Ato](ctx, id, func(db *gorm.DB) *gorm.DB {
		return db.Preload("Averbacoes", func(db *gorm.DB) *gorm.DB { return db.Order("data, id") })
	})
}

// ListAtos returns a book's acts without content, newest number first.
func ListAtos(ctx context.Context, livroId int) ([]*Ato, error) {
	if err := utils.ValidateResourceId[Livro](ctx, livroId); err != nil {
		return nil, err
	}
	db := config.GetDB()
	var results []*Ato
	if err := db.WithContext(ctx).
		Omit("conteudo", "dados_extraidos").
		Where("livro_id = ?", livroId).
		Order("numero DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateAto drops the cached extraction when the content changes.
func UpdateAto(ctx context.Context, id int, input *NewAto) (*Ato, error) {
	current, err := GetAto(ctx, id)
	if err != nil {
		return nil, err
	}
	data, partes, err := input.parse(ctx, current.LivroId, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"Numero":      input.Numero,
		"Folha":       input.Folha,
		"Tipo":        strings.TrimSpace(input.Tipo),
		"Data":        data,
		"Partes":      StringList(partes),
		"Conteudo":    input.Conteudo,
		"ConteudoSha": ContentHash(input.Conteudo),
		"Emolumentos": input.Emolumentos.Round(2),
	}
	if input.Conteudo != current.Conteudo {
		updates["DadosExtraidos"] = gorm.Expr("NULL")
		updates["ExtraidoEm"] = nil
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := checkLivroAberto(ctx, tx, current.LivroId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Model(&Ato{ID: id}).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return GetAto(ctx, id)
}

func DeleteAto(ctx context.Context, id int) (*Ato, error) {
	ato, err := GetAto(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ato.Averbacoes) > 0 {
		return nil, utils.NewValidationError("ato", "ato has averbações and cannot be deleted")
	}
	db := config.GetDB()
	tx := db.Begin()
	if err := checkLivroAberto(ctx, tx, ato.LivroId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&Ato{}, id).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ato, nil
}

// SaveAtoExtraction caches ex, extracted from conteudo, on the act. saved is
// false when an extraction is already stored or the act's content changed
// since conteudo was read.
func SaveAtoExtraction(ctx context.Context, atoId int, conteudo string, ex reconcile.Extraction, author string) (saved bool, err error) {
	data := ExtractionData(ex)
	now := time.Now()

	db := config.GetDB()
	tx := db.Begin()
	res := tx.WithContext(ctx).Model(&Ato{}).
		Where("id = ? AND dados_extraidos IS NULL AND conteudo_sha = ?", atoId, ContentHash(conteudo)).
		Updates(map[string]interface{}{
			"DadosExtraidos": &data,
			"ExtraidoEm":     now,
		})
	if res.Error != nil {
		tx.Rollback()
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return false, nil
	}
	if err := recordRegistryEvent(ctx, tx, "atos", atoId, EventActionAtoExtracted, author,
		map[string]interface{}{"partes": ex.PartyNames()}); err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit().Error; err != nil {
		return false, err
	}
	return true, nil
}

// SearchAtoCandidates narrows acts by keyword before semantic ranking.
// Without keyword hits the most recent acts are returned.
func SearchAtoCandidates(ctx context.Context, query string, limit int) ([]*Ato, error) {
	if limit <= 0 {
		limit = 50
	}
	db := config.GetDB()
	var results []*Ato

	var terms []string
	for _, w := range strings.Fields(query) {
		if len([]rune(w)) >= 4 {
			terms = append(terms, w)
		}
	}
	if len(terms) > 0 {
		dbCtx := db.WithContext(ctx).Model(&Ato{})
		cond := db.Where("conteudo LIKE ?", "%"+terms[0]+"%").Or("partes LIKE ?", "%"+terms[0]+"%")
		for _, t := range terms[1:] {
			cond = cond.Or("conteudo LIKE ?", "%"+t+"%").Or("partes LIKE ?", "%"+t+"%")
		}
		if err := dbCtx.Where(cond).Order("data DESC").Limit(limit).Find(&results).Error; err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	if err := db.WithContext(ctx).Order("data DESC, id DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
