package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartorio-digital/cartorio_backend/config"
	"gorm.io/gorm"
)

// FetchModel loads one row by primary key after applying scopes (preloads,
// column omissions). A missing row wraps ErrorRecordNotFound with the type name.
func FetchModel[T any](ctx context.Context, id int, scopes ...func(*gorm.DB) *gorm.DB) (*T, error) {
	var row T
	err := config.GetDB().WithContext(ctx).Scopes(scopes...).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %d: %w", GetTypeName[T](), id, ErrorRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
