package middlewares

import (
	"context"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/graph-gophers/dataloader/v7"
)

// reads through models so the name collation rules live in one place
type clientReader struct{}

// one query for every name asked during the request; each key gets the
// clients whose nome equals it exactly
func (r *clientReader) getClientsByNome(ctx context.Context, nomes []string) []*dataloader.Result[[]*models.Client] {
	candidates, err := models.FindClientCandidates(ctx, nomes)
	if err != nil {
		return failAll[[]*models.Client](len(nomes), err)
	}
	byNome := make(map[string][]*models.Client)
	for _, c := range candidates {
		n := strings.TrimSpace(c.Nome)
		byNome[n] = append(byNome[n], c)
	}
	results := make([]*dataloader.Result[[]*models.Client], 0, len(nomes))
	for _, n := range nomes {
		found := byNome[strings.TrimSpace(n)]
		if found == nil {
			found = []*models.Client{}
		}
		results = append(results, &dataloader.Result[[]*models.Client]{Data: found})
	}
	return results
}

// GetClientsByNome returns every client named exactly nome.
func GetClientsByNome(ctx context.Context, nome string) ([]*models.Client, error) {
	loaders := loadersFrom(ctx)
	return loaders.clientsByNome.Load(ctx, nome)()
}

// GetClientsByNomes keeps the order of nomes and skips names without a client.
func GetClientsByNomes(ctx context.Context, nomes []string) ([]*models.Client, error) {
	loaders := loadersFrom(ctx)
	groups, errs := loaders.clientsByNome.LoadMany(ctx, nomes)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	seen := make(map[int]bool)
	results := []*models.Client{}
	for _, g := range groups {
		for _, c := range g {
			if !seen[c.ID] {
				seen[c.ID] = true
				results = append(results, c)
			}
		}
	}
	return results, nil
}
