package middlewares

import (
	"context"

	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type atoReader struct {
	db *gorm.DB
}

func (r *atoReader) getAtos(ctx context.Context, ids []int) []*dataloader.Result[*models.Ato] {
	var results []*models.Ato
	err := r.db.WithContext(ctx).Omit("conteudo").Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return failAll[*models.Ato](len(ids), err)
	}
	return resultsByID(results, ids)
}

// GetAtos loads acts without their content, keeping the order of ids.
// Ids with no act are skipped.
func GetAtos(ctx context.Context, ids []int) ([]*models.Ato, error) {
	loaders := loadersFrom(ctx)
	atos, _ := loaders.atos.LoadMany(ctx, ids)()
	results := make([]*models.Ato, 0, len(atos))
	for _, a := range atos {
		if a != nil {
			results = append(results, a)
		}
	}
	return results, nil
}
