package models

import (
	"context"
	"fmt"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
)

// registryTables lists every persisted model, parents before children.
func registryTables() []interface{} {
	return []interface{}{
		&User{},
		&Client{}, &ClientContato{}, &ClientEndereco{}, &ClientDocumento{},
		&ClientField{}, &ClientObservacao{}, &ClientEvent{},
		&Livro{}, &Ato{}, &Averbacao{},
		&Preset{}, &SystemPrompt{},
		&Conversation{}, &ConversationMessage{},
		&RegistryEventRecord{},
		&AiUsageLog{},
	}
}

// MigrateTable runs AutoMigrate for the registry schema.
func MigrateTable(ctx context.Context) error {
	if err := config.GetDB().WithContext(ctx).AutoMigrate(registryTables()...); err != nil {
		return fmt.Errorf("migrate registry tables: %w", err)
	}
	if err := backfillNomeBusca(ctx); err != nil {
		return fmt.Errorf("backfill nome_busca: %w", err)
	}
	if err := backfillConteudoSha(ctx); err != nil {
		return fmt.Errorf("backfill conteudo_sha: %w", err)
	}
	return nil
}

// backfillNomeBusca fills the folded name of clients created before the column existed.
func backfillNomeBusca(ctx context.Context) error {
	db := config.GetDB().WithContext(ctx)
	for {
		var batch []*Client
		if err := db.Select("id", "nome").Where("nome_busca = ''").Limit(500).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, c := range batch {
			folded := reconcile.Fold(c.Nome)
			if folded == "" {
				// keeps blank names from being selected forever
				folded = "-"
			}
			if err := db.Model(&Client{}).Where("id = ?", c.ID).UpdateColumn("nome_busca", folded).Error; err != nil {
				return err
			}
		}
	}
}

// backfillConteudoSha hashes acts stored before the column existed; without it
// SaveAtoExtraction never caches their extraction.
func backfillConteudoSha(ctx context.Context) error {
	db := config.GetDB().WithContext(ctx)
	for {
		var batch []*Ato
		if err := db.Select("id", "conteudo").Where("conteudo_sha = ''").Limit(200).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, a := range batch {
			if err := db.Model(&Ato{}).Where("id = ?", a.ID).UpdateColumn("conteudo_sha", ContentHash(a.Conteudo)).Error; err != nil {
				return err
			}
		}
	}
}
