package models

import (
	"context"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
)

// Averbacao is an amendment written in the margin of an act. Append-only.
type Averbacao struct {
	ID        int       `gorm:"primary_key" json:"id"`
	AtoId     int       `gorm:"index;not null" json:"atoId"`
	Texto     string    `gorm:"type:text;not null" json:"texto"`
	Autor     string    `gorm:"size:150;not null" json:"autor"`
	Data      time.Time `gorm:"type:date;not null" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Averbacao) TableName() string { return "averbacoes" }

type NewAverbacao struct {
	Texto string `json:"texto" validate:"required"`
	// defaults to today
	Data string `json:"data"`
}

func AddAverbacao(ctx context.Context, atoId int, input *NewAverbacao, author string) (*Averbacao, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(author) == "" {
		return nil, utils.NewValidationError("author", "author is required")
	}
	data := time.Now()
	if strings.TrimSpace(input.Data) != "" {
		d, ok := reconcile.ParseDate(input.Data)
		if !ok {
			return nil, utils.NewValidationError("data", "invalid date")
		}
		data = d
	}
	if err := utils.ValidateResourceId[Ato](ctx, atoId); err != nil {
		return nil, err
	}
	averbacao := Averbacao{
		AtoId: atoId,
		Texto: strings.TrimSpace(input.Texto),
		Autor: author,
		Data:  data,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&averbacao).Error; err != nil {
		return nil, err
	}
	return &averbacao, nil
}
