package models

import (
	"context"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/utils"
	"gorm.io/gorm"
)

type ClientContato struct {
	ID        int         `gorm:"primary_key" json:"id"`
	ClientId  int         `gorm:"index;not null" json:"clientId"`
	Tipo      ContatoTipo `gorm:"type:enum('email','phone','whatsapp');not null" json:"tipo"`
	Valor     string      `gorm:"size:150;not null" json:"valor"`
	Rotulo    string      `gorm:"size:100" json:"rotulo"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewClientContato struct {
	HasId
	HasIsDeleted
	Tipo   ContatoTipo `json:"tipo" validate:"required"`
	Valor  string      `json:"valor" validate:"required,max=150"`
	Rotulo string      `json:"rotulo" validate:"max=100"`
}

// normalized value: E.164 for phone kinds, lower-case for email
func (i NewClientContato) normalizedValor() (string, error) {
	switch i.Tipo {
	case ContatoTipoPhone, ContatoTipoWhatsapp:
		v, err := utils.NormalizePhoneNumber(i.Valor)
		if err != nil {
			return "", utils.NewValidationError("contatos.valor", err.Error())
		}
		return v, nil
	case ContatoTipoEmail:
		return strings.ToLower(strings.TrimSpace(i.Valor)), nil
	}
	return "", utils.NewValidationError("contatos.tipo", "invalid contato tipo")
}

func (i NewClientContato) Fillable() (map[string]interface{}, error) {
	valor, err := i.normalizedValor()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"Tipo":   i.Tipo,
		"Valor":  valor,
		"Rotulo": i.Rotulo,
	}, nil
}

func (i NewClientContato) MapInput(clientId int) (*ClientContato, error) {
	valor, err := i.normalizedValor()
	if err != nil {
		return nil, err
	}
	return &ClientContato{
		ClientId: clientId,
		Tipo:     i.Tipo,
		Valor:    valor,
		Rotulo:   i.Rotulo,
	}, nil
}

func (c *ClientContato) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(c).Error
}

func (c *ClientContato) Delete(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Delete(c).Error
}

func (c *ClientContato) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(c).Updates(fillable).Error
}

type ClientEndereco struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ClientId   int       `gorm:"index;not null" json:"clientId"`
	Logradouro string    `gorm:"size:200" json:"logradouro"`
	Numero     string    `gorm:"size:20" json:"numero"`
	Bairro     string    `gorm:"size:100" json:"bairro"`
	Cidade     string    `gorm:"size:100" json:"cidade"`
	Estado     string    `gorm:"size:2" json:"estado"`
	Cep        string    `gorm:"size:9" json:"cep"`
	Rotulo     string    `gorm:"size:100" json:"rotulo"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewClientEndereco struct {
	HasId
	HasIsDeleted
	Logradouro string `json:"logradouro" validate:"required,max=200"`
	Numero     string `json:"numero" validate:"max=20"`
	Bairro     string `json:"bairro" validate:"max=100"`
	Cidade     string `json:"cidade" validate:"required,max=100"`
	Estado     string `json:"estado" validate:"omitempty,len=2,alpha"`
	Cep        string `json:"cep" validate:"omitempty,max=9"`
	Rotulo     string `json:"rotulo" validate:"max=100"`
}

// CEP stored as 00000-000
func formatCep(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	d := utils.OnlyDigits(raw)
	if len(d) != 8 {
		return "", utils.NewValidationError("enderecos.cep", "cep must have 8 digits")
	}
	return d[:5] + "-" + d[5:], nil
}

func (i NewClientEndereco) Fillable() (map[string]interface{}, error) {
	cep, err := formatCep(i.Cep)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"Logradouro": i.Logradouro,
		"Numero":     i.Numero,
		"Bairro":     i.Bairro,
		"Cidade":     i.Cidade,
		"Estado":     strings.ToUpper(i.Estado),
		"Cep":        cep,
		"Rotulo":     i.Rotulo,
	}, nil
}

func (i NewClientEndereco) MapInput(clientId int) (*ClientEndereco, error) {
	cep, err := formatCep(i.Cep)
	if err != nil {
		return nil, err
	}
	return &ClientEndereco{
		ClientId:   clientId,
		Logradouro: i.Logradouro,
		Numero:     i.Numero,
		Bairro:     i.Bairro,
		Cidade:     i.Cidade,
		Estado:     strings.ToUpper(i.Estado),
		Cep:        cep,
		Rotulo:     i.Rotulo,
	}, nil
}

func (e *ClientEndereco) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(e).Error
}

func (e *ClientEndereco) Delete(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Delete(e).Error
}

func (e *ClientEndereco) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(e).Updates(fillable).Error
}

type ClientDocumento struct {
	ID           int            `gorm:"primary_key" json:"id"`
	ClientId     int            `gorm:"index;not null" json:"clientId"`
	Nome         string         `gorm:"size:150;not null" json:"nome"`
	Url          string         `gorm:"size:500;not null" json:"url"`
	ThumbnailUrl string         `gorm:"size:500" json:"thumbnailUrl"`
	DataValidade *string        `gorm:"size:30" json:"dataValidade"`
	Status       ValidityStatus `gorm:"-" json:"status"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// fills the computed validity badge after loading
func (d *ClientDocumento) AfterFind(tx *gorm.DB) error {
	d.Status = ClassifyDocumentValidity(d.DataValidade, time.Now()).Status
	return nil
}

type NewClientDocumento struct {
	HasId
	HasIsDeleted
	Nome         string  `json:"nome" validate:"required,max=150"`
	Url          string  `json:"url" validate:"required,max=500"`
	ThumbnailUrl string  `json:"thumbnailUrl" validate:"max=500"`
	DataValidade *string `json:"dataValidade" validate:"omitempty,max=30"`
}

func (i NewClientDocumento) Fillable() (map[string]interface{}, error) {
	return map[string]interface{}{
		"Nome":         i.Nome,
		"Url":          i.Url,
		"ThumbnailUrl": i.ThumbnailUrl,
		"DataValidade": utils.NilIfEmpty(utils.DereferencePtr(i.DataValidade)),
	}, nil
}

func (i NewClientDocumento) MapInput(clientId int) (*ClientDocumento, error) {
	return &ClientDocumento{
		ClientId:     clientId,
		Nome:         i.Nome,
		Url:          i.Url,
		ThumbnailUrl: i.ThumbnailUrl,
		DataValidade: utils.NilIfEmpty(utils.DereferencePtr(i.DataValidade)),
	}, nil
}

func (d *ClientDocumento) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(d).Error
}

func (d *ClientDocumento) Delete(tx *gorm.DB, ctx context.Context) error {
	// the stored object is kept; documents can be re-attached from the bucket
	return tx.WithContext(ctx).Delete(d).Error
}

func (d *ClientDocumento) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(d).Updates(fillable).Error
}

// checkDocumentObjects verifies uploaded objects exist before linking them.
// Skipped when storage is not configured.
func checkDocumentObjects(ctx context.Context, docs []*NewClientDocumento) error {
	if utils.GetStorageProvider() != utils.StorageProviderGCS {
		return nil
	}
	for _, d := range docs {
		if d == nil || d.IsDeleted() {
			continue
		}
		key := utils.ExtractObjectKeyFromURL(d.Url)
		if key == "" {
			continue
		}
		ok, err := utils.ObjectExistsInGCS(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return utils.NewValidationError("documentos.url", "uploaded object not found: "+key)
		}
	}
	return nil
}

// dadosAdicionais row; (client_id, label) is unique
type ClientField struct {
	ID        int       `gorm:"primary_key" json:"-"`
	ClientId  int       `gorm:"not null;uniqueIndex:idx_client_field_label,priority:1" json:"-"`
	Label     string    `gorm:"size:150;not null;uniqueIndex:idx_client_field_label,priority:2" json:"label"`
	Value     string    `gorm:"type:text" json:"value"`
	Position  int       `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

type ClientObservacao struct {
	ID        int              `gorm:"primary_key" json:"id"`
	ClientId  int              `gorm:"index;not null" json:"clientId"`
	Texto     string           `gorm:"type:text;not null" json:"texto"`
	Autor     string           `gorm:"size:150;not null" json:"autor"`
	Origem    ObservacaoOrigem `gorm:"type:enum('manual','ai');not null;default:'manual'" json:"origem"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
}

type NewClientObservacao struct {
	Texto string `json:"texto" validate:"required"`
}

// append-only audit log; updates and deletes are rejected by config.AppendOnlyGuardPlugin
type ClientEvent struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ClientId  int       `gorm:"index;not null" json:"clientId"`
	Descricao string    `gorm:"type:text;not null" json:"descricao"`
	Autor     string    `gorm:"size:150;not null" json:"autor"`
	Before    string    `gorm:"type:text" json:"before,omitempty"`
	After     string    `gorm:"type:text" json:"after,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (ClientEvent) TableName() string { return "client_events" }

func (ClientContato) TableName() string    { return "client_contatos" }
func (ClientEndereco) TableName() string   { return "client_enderecos" }
func (ClientDocumento) TableName() string  { return "client_documentos" }
func (ClientField) TableName() string      { return "client_fields" }
func (ClientObservacao) TableName() string { return "client_observacoes" }
