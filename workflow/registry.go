package workflow

import (
	"context"

	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
)

// Registry is what the sync workflows need from persistence.
// DBRegistry is the production implementation; tests use an in-memory one.
type Registry interface {
	// ProfilesByNames returns every client that could match one of nomes.
	// Exact matching is left to reconcile.
	ProfilesByNames(ctx context.Context, nomes []string) ([]reconcile.Profile, error)
	CommitFields(ctx context.Context, clientId int, fields []reconcile.Field, author string) (*models.CommitFieldsResult, error)
	GetAto(ctx context.Context, atoId int) (*models.Ato, error)
	// SaveExtraction stores ex as the extraction of conteudo. It reports false
	// when the act already had an extraction or no longer holds conteudo.
	SaveExtraction(ctx context.Context, atoId int, conteudo string, ex reconcile.Extraction, author string) (bool, error)
}

type DBRegistry struct{}

func (DBRegistry) ProfilesByNames(ctx context.Context, nomes []string) ([]reconcile.Profile, error) {
	clients, err := models.FindClientCandidates(ctx, nomes)
	if err != nil {
		return nil, err
	}
	return models.ClientProfiles(clients), nil
}

func (DBRegistry) CommitFields(ctx context.Context, clientId int, fields []reconcile.Field, author string) (*models.CommitFieldsResult, error) {
	return models.CommitClientFields(ctx, clientId, fields, author)
}

func (DBRegistry) GetAto(ctx context.Context, atoId int) (*models.Ato, error) {
	return models.GetAto(ctx, atoId)
}

func (DBRegistry) SaveExtraction(ctx context.Context, atoId int, conteudo string, ex reconcile.Extraction, author string) (bool, error) {
	return models.SaveAtoExtraction(ctx, atoId, conteudo, ex, author)
}
