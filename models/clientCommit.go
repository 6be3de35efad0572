package models

import (
	"context"
	"errors"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommitFieldsResult struct {
	ClientId int               `json:"clientId"`
	Changed  []reconcile.Field `json:"changed"`
	Event    *ClientEvent      `json:"event"`
}

// CommitClientFields upserts fields into the client's dadosAdicionais by label
// and appends exactly one event attributed to author. Everything happens in one
// transaction; on error nothing is written.
func CommitClientFields(ctx context.Context, clientId int, fields []reconcile.Field, author string) (*CommitFieldsResult, error) {
	if strings.TrimSpace(author) == "" {
		return nil, utils.NewValidationError("author", "author is required")
	}
	if len(fields) == 0 {
		return nil, utils.NewValidationError("fields", "at least one field is required")
	}
	for _, f := range fields {
		if strings.TrimSpace(f.Label) == "" {
			return nil, utils.NewValidationError("fields.label", "label is required")
		}
	}

	db := config.GetDB()
	tx := db.Begin()
	var client Client
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&client, clientId).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("client_id = ?", clientId).Order("position, id").Find(&client.DadosAdicionais).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	before := client.Fields()
	merged, changed := reconcile.UpsertFields(before, fields)
	if len(changed) > 0 {
		if err := replaceClientFields(ctx, tx, clientId, merged); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	descricao := "Dados adicionais confirmados: " + strings.Join(reconcile.Labels(fields), ", ")
	if len(changed) == 0 {
		descricao += " (sem alterações)"
	}
	event, err := appendClientEvent(tx.WithContext(ctx), clientId, descricao, author, before, merged)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recordRegistryEvent(ctx, tx, "clients", clientId, EventActionClientFieldsCommitted, author,
		map[string]interface{}{"changed": changed}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateClient(clientId)

	return &CommitFieldsResult{ClientId: clientId, Changed: changed, Event: event}, nil
}
