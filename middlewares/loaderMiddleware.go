package middlewares

import (
	"context"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type loadersKey struct{}

// Loaders batch the lookups one request repeats: party names resolved to
// clients while verifying an act, and acts listed by a search.
type Loaders struct {
	clientsByNome *dataloader.Loader[string, []*models.Client]
	atos          *dataloader.Loader[int, *models.Ato]
}

const batchWait = time.Millisecond

func NewLoaders(conn *gorm.DB) *Loaders {
	clients := &clientReader{}
	atos := &atoReader{db: conn}
	return &Loaders{
		clientsByNome: dataloader.NewBatchedLoader(clients.getClientsByNome,
			dataloader.WithWait[string, []*models.Client](batchWait)),
		atos: dataloader.NewBatchedLoader(atos.getAtos,
			dataloader.WithWait[int, *models.Ato](batchWait)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), loadersKey{}, NewLoaders(config.GetDB()))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// loadersFrom returns the request's loaders, or fresh ones outside a request.
func loadersFrom(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey{}).(*Loaders); ok {
		return l
	}
	return NewLoaders(config.GetDB())
}

func failAll[T any](n int, err error) []*dataloader.Result[T] {
	out := make([]*dataloader.Result[T], n)
	for i := range out {
		out[i] = &dataloader.Result[T]{Error: err}
	}
	return out
}

// resultsByID lines rows up with the requested ids; missing ids get
// ErrorRecordNotFound.
func resultsByID[T models.Identifier](rows []T, ids []int) []*dataloader.Result[T] {
	byID := make(map[int]T, len(rows))
	for _, r := range rows {
		byID[r.GetId()] = r
	}
	out := make([]*dataloader.Result[T], len(ids))
	for i, id := range ids {
		if r, ok := byID[id]; ok {
			out[i] = &dataloader.Result[T]{Data: r}
		} else {
			out[i] = &dataloader.Result[T]{Error: utils.ErrorRecordNotFound}
		}
	}
	return out
}
