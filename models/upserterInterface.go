package models

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"
)

// ClientContato, ClientEndereco, ClientDocumento
type Upserter interface {
	Store(tx *gorm.DB, ctx context.Context) error
	Delete(tx *gorm.DB, ctx context.Context) error
	Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error
}

// NewClientContato, NewClientEndereco, NewClientDocumento
type Upsertable[ReturnType any] interface {
	Fillable() (map[string]interface{}, error) // for updates
	MapInput(parentId int) (ReturnType, error) // for create
	IsDeleted() bool
	Identifier
}

// upsert input array under one parent row, insert new, update existing, delete if flagged as isDeletedItem.
// Rows not mentioned in the input are left alone.
func UpsertChildAssociation[ReturnType Upserter, InputType Upsertable[ReturnType]](
	ctx context.Context, tx *gorm.DB, inputSlice []InputType, parentColumn string, parentId int) ([]ReturnType, error) {

	var existingIds []int
	var temp ReturnType
	if err := tx.WithContext(ctx).
		Model(&temp).Where(fmt.Sprintf("%s = ?", parentColumn), parentId).
		Pluck("id", &existingIds).Error; err != nil {
		return nil, err
	}

	var associations []ReturnType
	for _, input := range inputSlice {
		var item ReturnType
		id := input.GetId()

		if slices.Contains(existingIds, id) {
			// fetch before update/delete
			if err := tx.WithContext(ctx).First(&item, id).Error; err != nil {
				return nil, err
			}
			if input.IsDeleted() {
				if err := item.Delete(tx, ctx); err != nil {
					return nil, err
				}
				continue
			}
			update, err := input.Fillable()
			if err != nil {
				return nil, err
			}
			if err := item.Update(tx, ctx, update); err != nil {
				return nil, err
			}
		} else {
			// ids from another client are treated as new rows
			if input.IsDeleted() {
				continue
			}
			newItem, err := input.MapInput(parentId)
			if err != nil {
				return nil, err
			}
			if err := newItem.Store(tx, ctx); err != nil {
				return nil, err
			}
			item = newItem
		}
		associations = append(associations, item)
	}

	return associations, nil
}

// map create inputs without touching the db (client not stored yet)
func mapChildInputs[ReturnType Upserter, InputType Upsertable[ReturnType]](inputSlice []InputType) ([]ReturnType, error) {
	var results []ReturnType
	for _, input := range inputSlice {
		if input.IsDeleted() {
			continue
		}
		item, err := input.MapInput(0)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, nil
}
