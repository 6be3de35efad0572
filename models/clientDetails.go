package models

import (
	"context"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
)

// GetClientByCpfCnpj looks the client up by document, punctuation ignored.
func GetClientByCpfCnpj(ctx context.Context, raw string) (*Client, error) {
	d := utils.OnlyDigits(raw)
	if len(d) != 11 && len(d) != 14 {
		return nil, utils.NewValidationError("cpfCnpj", "cpf must have 11 digits and cnpj 14")
	}
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&Client{}).
		Where("cpf_cnpj = ?", utils.FormatCPFCNPJ(d)).
		Order("id").Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetClient(ctx, ids[0])
}

type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type ClientStats struct {
	Total   int64         `json:"total"`
	PorTipo []*CountByKey `json:"porTipo"`
	// new clients per month, oldest first, over the last 12 months
	PorMes []*CountByKey `json:"porMes"`
}

func GetClientStats(ctx context.Context, now time.Time) (*ClientStats, error) {
	db := config.GetDB()
	stats := &ClientStats{}
	if err := db.WithContext(ctx).Model(&Client{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&Client{}).
		Select("tipo AS `key`, COUNT(*) AS count").
		Group("tipo").Order("`key`").
		Scan(&stats.PorTipo).Error; err != nil {
		return nil, err
	}
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -11, 0)
	if err := db.WithContext(ctx).Model(&Client{}).
		Select("DATE_FORMAT(created_at, '%Y-%m') AS `key`, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("`key`").Order("`key`").
		Scan(&stats.PorMes).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// ListClientEvents returns the audit log newest first.
func ListClientEvents(ctx context.Context, clientId int) ([]*ClientEvent, error) {
	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return nil, err
	}
	var events []*ClientEvent
	err := config.GetDB().WithContext(ctx).
		Where("client_id = ?", clientId).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	return events, err
}

type NewClientEvento struct {
	Tipo      string `json:"tipo" validate:"required,max=50"`
	Descricao string `json:"descricao" validate:"required,max=2000"`
}

// AddClientEvent appends a manual entry, e.g. a phone call or an in-person visit.
func AddClientEvent(ctx context.Context, clientId int, input *NewClientEvento, author string) (*ClientEvent, error) {
	input.Tipo = strings.TrimSpace(input.Tipo)
	input.Descricao = strings.TrimSpace(input.Descricao)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return nil, err
	}
	tx := config.GetDB().Begin()
	event, err := appendClientEvent(tx.WithContext(ctx), clientId, input.Tipo+": "+input.Descricao, author, nil, nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateClient(clientId)
	return event, nil
}

func ListClientContatos(ctx context.Context, clientId int) ([]*ClientContato, error) {
	return listClientChildren[ClientContato](ctx, clientId)
}

func ListClientEnderecos(ctx context.Context, clientId int) ([]*ClientEndereco, error) {
	return listClientChildren[ClientEndereco](ctx, clientId)
}

func AddClientContato(ctx context.Context, clientId int, input *NewClientContato, author string) (*ClientContato, error) {
	input.ID, input.IsDeletedItem = 0, false
	return saveClientChild[*ClientContato](ctx, clientId, input, "Contato adicionado", author)
}

func AddClientEndereco(ctx context.Context, clientId int, input *NewClientEndereco, author string) (*ClientEndereco, error) {
	input.ID, input.IsDeletedItem = 0, false
	return saveClientChild[*ClientEndereco](ctx, clientId, input, "Endereço adicionado", author)
}

func UpdateClientContato(ctx context.Context, id int, input *NewClientContato, author string) (*ClientContato, error) {
	clientId, err := childOwner[ClientContato](ctx, id)
	if err != nil {
		return nil, err
	}
	input.ID, input.IsDeletedItem = id, false
	return saveClientChild[*ClientContato](ctx, clientId, input, "Contato atualizado", author)
}

func UpdateClientEndereco(ctx context.Context, id int, input *NewClientEndereco, author string) (*ClientEndereco, error) {
	clientId, err := childOwner[ClientEndereco](ctx, id)
	if err != nil {
		return nil, err
	}
	input.ID, input.IsDeletedItem = id, false
	return saveClientChild[*ClientEndereco](ctx, clientId, input, "Endereço atualizado", author)
}

func DeleteClientContato(ctx context.Context, id int, author string) error {
	clientId, err := childOwner[ClientContato](ctx, id)
	if err != nil {
		return err
	}
	input := &NewClientContato{HasId: HasId{ID: id}, HasIsDeleted: HasIsDeleted{IsDeletedItem: true}}
	_, err = saveClientChild[*ClientContato](ctx, clientId, input, "Contato removido", author)
	return err
}

func DeleteClientEndereco(ctx context.Context, id int, author string) error {
	clientId, err := childOwner[ClientEndereco](ctx, id)
	if err != nil {
		return err
	}
	input := &NewClientEndereco{HasId: HasId{ID: id}, HasIsDeleted: HasIsDeleted{IsDeletedItem: true}}
	_, err = saveClientChild[*ClientEndereco](ctx, clientId, input, "Endereço removido", author)
	return err
}

func listClientChildren[T any](ctx context.Context, clientId int) ([]*T, error) {
	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return nil, err
	}
	var rows []*T
	err := config.GetDB().WithContext(ctx).Where("client_id = ?", clientId).Order("id").Find(&rows).Error
	return rows, err
}

// childOwner returns the client a contato or endereço belongs to.
func childOwner[T any](ctx context.Context, id int) (int, error) {
	var clientIds []int
	if err := config.GetDB().WithContext(ctx).Model(new(T)).Where("id = ?", id).Pluck("client_id", &clientIds).Error; err != nil {
		return 0, err
	}
	if len(clientIds) == 0 {
		return 0, utils.ErrorRecordNotFound
	}
	return clientIds[0], nil
}

// saveClientChild runs one create, update or delete through UpsertChildAssociation
// and appends the client event in the same transaction.
func saveClientChild[R Upserter, I Upsertable[R]](ctx context.Context, clientId int, input I, descricao string, author string) (R, error) {
	var zero R
	if !input.IsDeleted() {
		if err := utils.ValidateStruct(input); err != nil {
			return zero, err
		}
	}
	if err := utils.ValidateResourceId[Client](ctx, clientId); err != nil {
		return zero, err
	}
	tx := config.GetDB().Begin()
	saved, err := UpsertChildAssociation[R](ctx, tx, []I{input}, "client_id", clientId)
	if err != nil {
		tx.Rollback()
		return zero, err
	}
	var after interface{}
	if len(saved) == 1 {
		after = saved[0]
	}
	if _, err := appendClientEvent(tx.WithContext(ctx), clientId, descricao, author, nil, after); err != nil {
		tx.Rollback()
		return zero, err
	}
	if err := tx.Commit().Error; err != nil {
		return zero, err
	}
	invalidateClient(clientId)
	if len(saved) == 1 {
		return saved[0], nil
	}
	return zero, nil
}
