package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Client struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	Nome            string              `gorm:"size:200;not null;index" json:"nome"`
	NomeBusca       string              `gorm:"size:200;not null;default:'';index" json:"-"`
	CpfCnpj         string              `gorm:"size:18;not null;index" json:"cpfCnpj"`
	Tipo            ClientTipo          `gorm:"type:enum('PF','PJ');not null" json:"tipo"`
	Contatos        []*ClientContato    `gorm:"foreignKey:ClientId" json:"contatos"`
	Enderecos       []*ClientEndereco   `gorm:"foreignKey:ClientId" json:"enderecos"`
	Documentos      []*ClientDocumento  `gorm:"foreignKey:ClientId" json:"documentos"`
	DadosAdicionais []*ClientField      `gorm:"foreignKey:ClientId" json:"dadosAdicionais"`
	Observacoes     []*ClientObservacao `gorm:"foreignKey:ClientId" json:"observacoes"`
	Eventos         []*ClientEvent      `gorm:"foreignKey:ClientId" json:"eventos"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt       gorm.DeletedAt      `gorm:"index" json:"-"`
}

func (c Client) GetId() int {
	return c.ID
}

type NewClient struct {
	Nome            string                `json:"nome" validate:"required,max=200"`
	CpfCnpj         string                `json:"cpfCnpj" validate:"required,cpfcnpj"`
	Tipo            ClientTipo            `json:"tipo" validate:"required"`
	Contatos        []*NewClientContato   `json:"contatos" validate:"dive"`
	Enderecos       []*NewClientEndereco  `json:"enderecos" validate:"dive"`
	Documentos      []*NewClientDocumento `json:"documentos" validate:"dive"`
	DadosAdicionais []reconcile.Field     `json:"dadosAdicionais"`
}

// ClientPatch is a partial update. Nil members are left untouched;
// DadosAdicionais, when present, replaces the whole list.
type ClientPatch struct {
	Nome            *string               `json:"nome" validate:"omitempty,min=1,max=200"`
	CpfCnpj         *string               `json:"cpfCnpj" validate:"omitempty,cpfcnpj"`
	Tipo            *ClientTipo           `json:"tipo"`
	Contatos        []*NewClientContato   `json:"contatos" validate:"dive"`
	Enderecos       []*NewClientEndereco  `json:"enderecos" validate:"dive"`
	Documentos      []*NewClientDocumento `json:"documentos" validate:"dive"`
	DadosAdicionais []reconcile.Field     `json:"dadosAdicionais"`
}

func (p ClientPatch) isEmpty() bool {
	return p.Nome == nil && p.CpfCnpj == nil && p.Tipo == nil &&
		p.Contatos == nil && p.Enderecos == nil && p.Documentos == nil && p.DadosAdicionais == nil
}

// Fields returns dadosAdicionais in their stored order.
func (c *Client) Fields() []reconcile.Field {
	fields := make([]reconcile.Field, 0, len(c.DadosAdicionais))
	for _, f := range c.DadosAdicionais {
		fields = append(fields, reconcile.Field{Label: f.Label, Value: f.Value})
	}
	return fields
}

func (c *Client) Profile() reconcile.Profile {
	return reconcile.Profile{ID: c.ID, Nome: c.Nome, DadosAdicionais: c.Fields()}
}

func ClientProfiles(clients []*Client) []reconcile.Profile {
	profiles := make([]reconcile.Profile, 0, len(clients))
	for _, c := range clients {
		profiles = append(profiles, c.Profile())
	}
	return profiles
}

// PF takes a CPF, PJ a CNPJ
func validateTipoDocumento(tipo ClientTipo, cpfCnpj string) error {
	if !tipo.IsValid() {
		return utils.NewValidationError("tipo", "invalid client tipo")
	}
	if tipo == ClientTipoPF && !utils.IsValidCPF(cpfCnpj) {
		return utils.NewValidationError("cpfCnpj", "PF clients require a valid CPF")
	}
	if tipo == ClientTipoPJ && !utils.IsValidCNPJ(cpfCnpj) {
		return utils.NewValidationError("cpfCnpj", "PJ clients require a valid CNPJ")
	}
	return nil
}

// dadosAdicionais input: blank labels rejected, duplicates collapse with last write winning
func normalizeFieldInput(fields []reconcile.Field) ([]reconcile.Field, error) {
	for _, f := range fields {
		if strings.TrimSpace(f.Label) == "" {
			return nil, utils.NewValidationError("dadosAdicionais.label", "label is required")
		}
	}
	merged, _ := reconcile.UpsertFields(nil, fields)
	return merged, nil
}

func (input *NewClient) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := validateTipoDocumento(input.Tipo, input.CpfCnpj); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Client](ctx, "cpf_cnpj", utils.FormatCPFCNPJ(input.CpfCnpj), 0); err != nil {
		return err
	}
	return checkDocumentObjects(ctx, input.Documentos)
}

// preloads used for the full client view
func preloadClient(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Contatos", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Enderecos", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Documentos", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("DadosAdicionais", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Preload("Observacoes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC, id DESC") }).
		Preload("Eventos", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC, id DESC") })
}

// appendClientEvent writes one audit entry; callers pass the open transaction.
func appendClientEvent(tx *gorm.DB, clientId int, descricao string, autor string, before interface{}, after interface{}) (*ClientEvent, error) {
	if strings.TrimSpace(autor) == "" {
		return nil, utils.NewValidationError("author", "author is required")
	}
	event := ClientEvent{
		ClientId:  clientId,
		Descricao: descricao,
		Autor:     autor,
	}
	if before != nil {
		b, _ := json.Marshal(before)
		event.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		event.After = string(a)
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// replaceClientFields rewrites dadosAdicionais keeping row ids for labels that survive.
func replaceClientFields(ctx context.Context, tx *gorm.DB, clientId int, fields []reconcile.Field) error {
	var existing []*ClientField
	if err := tx.WithContext(ctx).Where("client_id = ?", clientId).Order("id").Find(&existing).Error; err != nil {
		return err
	}
	incoming := make(map[string]bool, len(fields))
	for _, f := range fields {
		incoming[reconcile.NormalizeLabel(f.Label)] = true
	}
	byLabel := make(map[string]*ClientField, len(existing))
	var stale []int
	for _, f := range existing {
		key := reconcile.NormalizeLabel(f.Label)
		if _, dup := byLabel[key]; dup || !incoming[key] {
			stale = append(stale, f.ID)
			continue
		}
		byLabel[key] = f
	}
	// delete first so renamed labels never hit the unique index
	if len(stale) > 0 {
		if err := tx.WithContext(ctx).Where("id IN ?", stale).Delete(&ClientField{}).Error; err != nil {
			return err
		}
	}
	for pos, f := range fields {
		if row, ok := byLabel[reconcile.NormalizeLabel(f.Label)]; ok {
			if err := tx.WithContext(ctx).Model(row).Updates(map[string]interface{}{
				"Label":    f.Label,
				"Value":    f.Value,
				"Position": pos,
			}).Error; err != nil {
				return err
			}
			continue
		}
		row := ClientField{ClientId: clientId, Label: f.Label, Value: f.Value, Position: pos}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func CreateClient(ctx context.Context, input *NewClient, author string) (*Client, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	fields, err := normalizeFieldInput(input.DadosAdicionais)
	if err != nil {
		return nil, err
	}
	contatos, err := mapChildInputs[*ClientContato](input.Contatos)
	if err != nil {
		return nil, err
	}
	enderecos, err := mapChildInputs[*ClientEndereco](input.Enderecos)
	if err != nil {
		return nil, err
	}
	documentos, err := mapChildInputs[*ClientDocumento](input.Documentos)
	if err != nil {
		return nil, err
	}

	client := Client{
		Nome:       strings.TrimSpace(input.Nome),
		NomeBusca:  reconcile.Fold(input.Nome),
		CpfCnpj:    utils.FormatCPFCNPJ(input.CpfCnpj),
		Tipo:       input.Tipo,
		Contatos:   contatos,
		Enderecos:  enderecos,
		Documentos: documentos,
	}
	for pos, f := range fields {
		client.DadosAdicionais = append(client.DadosAdicionais, &ClientField{Label: f.Label, Value: f.Value, Position: pos})
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&client).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := appendClientEvent(tx.WithContext(ctx), client.ID, "Cliente cadastrado", author, nil, client.Fields()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recordRegistryEvent(ctx, tx, "clients", client.ID, EventActionClientCreated, author,
		map[string]interface{}{"nome": client.Nome, "tipo": client.Tipo}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return GetClient(ctx, client.ID)
}

// GetClient loads the full client, served from cache when possible.
func GetClient(ctx context.Context, id int) (*Client, error) {
	cached, err := utils.RetrieveRedis[Client](id)
	if err != nil {
		config.LogError(config.GetLogger(), "Client", "GetClient", "RetrieveRedis", id, err)
	}
	if cached != nil {
		refreshDocumentStatus(cached, time.Now())
		return cached, nil
	}

	db := config.GetDB()
	var client Client
	if err := preloadClient(db.WithContext(ctx)).First(&client, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := utils.StoreRedis(&client, client.ID); err != nil {
		config.LogError(config.GetLogger(), "Client", "GetClient", "StoreRedis", id, err)
	}
	return &client, nil
}

func refreshDocumentStatus(c *Client, today time.Time) {
	for _, d := range c.Documentos {
		d.Status = ClassifyDocumentValidity(d.DataValidade, today).Status
	}
}

func invalidateClient(id int) {
	if err := utils.RemoveRedisItem[Client](id); err != nil {
		config.LogError(config.GetLogger(), "Client", "invalidateClient", "RemoveRedisItem", id, err)
	}
}

// ListClients filters by name or document fragment and tipo; list rows carry contatos only.
func ListClients(ctx context.Context, q string, tipo *ClientTipo) ([]*Client, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Preload("Contatos")
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + q + "%"
		if digits := utils.OnlyDigits(q); len(digits) >= 3 {
			dbCtx = dbCtx.Where("nome LIKE ? OR REPLACE(REPLACE(REPLACE(cpf_cnpj, '.', ''), '-', ''), '/', '') LIKE ?", like, "%"+digits+"%")
		} else {
			dbCtx = dbCtx.Where("nome LIKE ?", like)
		}
	}
	if tipo != nil {
		if !tipo.IsValid() {
			return nil, utils.NewValidationError("tipo", "invalid client tipo")
		}
		dbCtx = dbCtx.Where("tipo = ?", *tipo)
	}
	var results []*Client
	if err := dbCtx.Order("nome").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetClientByNome returns the client whose nome equals nome exactly.
// The lowest id wins when the registry holds homonyms.
func GetClientByNome(ctx context.Context, nome string) (*Client, error) {
	clients, err := GetClientsByNomes(ctx, []string{nome})
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return clients[0], nil
}

// GetClientsByNomes returns exact-name matches with dadosAdicionais loaded.
// Names with no client are skipped.
func GetClientsByNomes(ctx context.Context, nomes []string) ([]*Client, error) {
	candidates, err := FindClientCandidates(ctx, nomes)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(nomes))
	for _, n := range nomes {
		wanted[strings.TrimSpace(n)] = true
	}
	var results []*Client
	for _, c := range candidates {
		// the column collation ignores case and accents
		if wanted[strings.TrimSpace(c.Nome)] {
			results = append(results, c)
		}
	}
	return results, nil
}

// FindClientCandidates returns every client whose nome collates equal to one of nomes
// or whose folded nome (see reconcile.Fold) equals a folded one, so internal
// whitespace differences still surface. Exact matching is left to reconcile.MatchProfiles.
func FindClientCandidates(ctx context.Context, nomes []string) ([]*Client, error) {
	clean, folded := candidateKeys(nomes)
	if len(clean) == 0 {
		return nil, nil
	}
	db := config.GetDB()
	var results []*Client
	if err := db.WithContext(ctx).
		Preload("DadosAdicionais", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Where("nome IN ? OR nome_busca IN ?", clean, folded).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func candidateKeys(nomes []string) (clean []string, folded []string) {
	for _, n := range nomes {
		if n = strings.TrimSpace(n); n != "" {
			clean = append(clean, n)
			folded = append(folded, reconcile.Fold(n))
		}
	}
	return utils.UniqueSlice(clean), utils.UniqueSlice(folded)
}

// UpdateClient applies a partial update and appends one event describing it.
func UpdateClient(ctx context.Context, id int, patch *ClientPatch, author string) (*Client, error) {
	if err := utils.ValidateStruct(patch); err != nil {
		return nil, err
	}
	if patch.isEmpty() {
		return GetClient(ctx, id)
	}
	if err := checkDocumentObjects(ctx, patch.Documentos); err != nil {
		return nil, err
	}
	var fields []reconcile.Field
	if patch.DadosAdicionais != nil {
		var err error
		if fields, err = normalizeFieldInput(patch.DadosAdicionais); err != nil {
			return nil, err
		}
	}

	db := config.GetDB()
	tx := db.Begin()
	var current Client
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("DadosAdicionais", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		First(&current, id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	tipo := current.Tipo
	if patch.Tipo != nil {
		tipo = *patch.Tipo
	}
	cpfCnpj := current.CpfCnpj
	if patch.CpfCnpj != nil {
		cpfCnpj = utils.FormatCPFCNPJ(*patch.CpfCnpj)
	}
	if err := validateTipoDocumento(tipo, cpfCnpj); err != nil {
		tx.Rollback()
		return nil, err
	}
	if cpfCnpj != current.CpfCnpj {
		if err := utils.ValidateUnique[Client](ctx, "cpf_cnpj", cpfCnpj, id); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	var changes []string
	updates := map[string]interface{}{}
	if patch.Nome != nil && strings.TrimSpace(*patch.Nome) != current.Nome {
		updates["Nome"] = strings.TrimSpace(*patch.Nome)
		updates["NomeBusca"] = reconcile.Fold(*patch.Nome)
		changes = append(changes, "nome")
	}
	if cpfCnpj != current.CpfCnpj {
		updates["CpfCnpj"] = cpfCnpj
		changes = append(changes, "cpfCnpj")
	}
	if tipo != current.Tipo {
		updates["Tipo"] = tipo
		changes = append(changes, "tipo")
	}
	if len(updates) > 0 {
		if err := tx.WithContext(ctx).Model(&current).Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if patch.Contatos != nil {
		if _, err := UpsertChildAssociation[*ClientContato](ctx, tx, patch.Contatos, "client_id", id); err != nil {
			tx.Rollback()
			return nil, err
		}
		changes = append(changes, "contatos")
	}
	if patch.Enderecos != nil {
		if _, err := UpsertChildAssociation[*ClientEndereco](ctx, tx, patch.Enderecos, "client_id", id); err != nil {
			tx.Rollback()
			return nil, err
		}
		changes = append(changes, "enderecos")
	}
	if patch.Documentos != nil {
		if _, err := UpsertChildAssociation[*ClientDocumento](ctx, tx, patch.Documentos, "client_id", id); err != nil {
			tx.Rollback()
			return nil, err
		}
		changes = append(changes, "documentos")
	}
	var before, after interface{}
	if patch.DadosAdicionais != nil {
		if err := replaceClientFields(ctx, tx, id, fields); err != nil {
			tx.Rollback()
			return nil, err
		}
		before, after = current.Fields(), fields
		changes = append(changes, "dadosAdicionais")
	}

	if len(changes) > 0 {
		descricao := "Cadastro atualizado: " + strings.Join(changes, ", ")
		if _, err := appendClientEvent(tx.WithContext(ctx), id, descricao, author, before, after); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := recordRegistryEvent(ctx, tx, "clients", id, EventActionClientUpdated, author,
			map[string]interface{}{"changes": changes}); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateClient(id)
	return GetClient(ctx, id)
}

// DeleteClient soft-deletes the client; its audit log stays.
func DeleteClient(ctx context.Context, id int, author string) (*Client, error) {
	client, err := GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.Begin()
	if _, err := appendClientEvent(tx.WithContext(ctx), id, "Cliente removido", author, nil, nil); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&Client{}, id).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recordRegistryEvent(ctx, tx, "clients", id, EventActionClientDeleted, author,
		map[string]interface{}{"nome": client.Nome}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateClient(id)
	return client, nil
}

// AddClientObservacao appends a note; AI-generated summaries use origem ai.
func AddClientObservacao(ctx context.Context, clientId int, texto string, autor string, origem ObservacaoOrigem) (*ClientObservacao, error) {
	if strings.TrimSpace(texto) == "" {
		return nil, utils.NewValidationError("texto", "texto is required")
	}
	if strings.TrimSpace(autor) == "" {
		return nil, utils.NewValidationError("author", "author is required")
	}
	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return nil, err
	}
	obs := ClientObservacao{ClientId: clientId, Texto: texto, Autor: autor, Origem: origem}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&obs).Error; err != nil {
		return nil, err
	}
	invalidateClient(clientId)
	return &obs, nil
}

// DescribeClientHistory renders observations and events as plain text for the summary flows.
func DescribeClientHistory(c *Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente: %s (%s, %s)\n", c.Nome, c.Tipo, c.CpfCnpj)
	if len(c.DadosAdicionais) > 0 {
		b.WriteString("Dados adicionais:\n")
		for _, f := range c.DadosAdicionais {
			fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.Value)
		}
	}
	if len(c.Observacoes) > 0 {
		b.WriteString("Observações:\n")
		for _, o := range c.Observacoes {
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", o.CreatedAt.Format("02/01/2006"), o.Autor, o.Origem, o.Texto)
		}
	}
	if len(c.Eventos) > 0 {
		b.WriteString("Eventos:\n")
		for _, e := range c.Eventos {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", e.CreatedAt.Format("02/01/2006"), e.Autor, e.Descricao)
		}
	}
	return b.String()
}

// DescribeClientQualificationData lists what the qualification paragraph is
// written from: identity, additional data and addresses.
func DescribeClientQualificationData(c *Client) string {
	var b strings.Builder
	documento := "CPF"
	if c.Tipo == ClientTipoPJ {
		documento = "CNPJ"
	}
	fmt.Fprintf(&b, "Nome: %s\nTipo: %s\n%s: %s\n", c.Nome, c.Tipo, documento, c.CpfCnpj)
	for _, f := range c.DadosAdicionais {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	for _, e := range c.Enderecos {
		fmt.Fprintf(&b, "Endereço: %s, %s, %s, %s/%s, CEP %s\n", e.Logradouro, e.Numero, e.Bairro, e.Cidade, e.Estado, e.Cep)
	}
	return b.String()
}
