package models

import (
	"context"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
)

// Preset is one entry of a configuration list (book types, act types,
// document names, contact types).
type Preset struct {
	ID        int        `gorm:"primary_key" json:"id"`
	Kind      PresetKind `gorm:"size:30;not null;uniqueIndex:idx_preset_kind_nome,priority:1" json:"kind"`
	Nome      string     `gorm:"size:150;not null;uniqueIndex:idx_preset_kind_nome,priority:2" json:"nome"`
	Descricao string     `gorm:"size:255" json:"descricao"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

type NewPreset struct {
	Nome      string `json:"nome" validate:"required,max=150"`
	Descricao string `json:"descricao" validate:"max=255"`
}

/*
caches:
	PresetList:$kind
*/

func checkPresetKind(kind PresetKind) error {
	if !kind.IsValid() {
		return utils.NewValidationError("kind", "unknown preset kind "+string(kind))
	}
	return nil
}

func ListPresets(ctx context.Context, kind PresetKind) ([]*Preset, error) {
	if err := checkPresetKind(kind); err != nil {
		return nil, err
	}
	cached, err := utils.RetrieveRedisList[Preset](string(kind))
	if err != nil {
		config.LogError(config.GetLogger(), "Preset", "ListPresets", "RetrieveRedisList", kind, err)
	}
	if cached != nil {
		return cached, nil
	}
	db := config.GetDB()
	var results []*Preset
	if err := db.WithContext(ctx).Where("kind = ?", kind).Order("nome").Find(&results).Error; err != nil {
		return nil, err
	}
	if err := utils.StoreRedisList(results, string(kind)); err != nil {
		config.LogError(config.GetLogger(), "Preset", "ListPresets", "StoreRedisList", kind, err)
	}
	return results, nil
}

func CreatePreset(ctx context.Context, kind PresetKind, input *NewPreset) (*Preset, error) {
	if err := checkPresetKind(kind); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	preset := Preset{Kind: kind, Nome: strings.TrimSpace(input.Nome), Descricao: input.Descricao}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&preset).Error; err != nil {
		if config.IsDuplicateKey(err) {
			return nil, utils.NewValidationError("nome", "duplicate nome")
		}
		return nil, err
	}
	removePresetCache(kind)
	return &preset, nil
}

func DeletePreset(ctx context.Context, kind PresetKind, id int) (*Preset, error) {
	if err := checkPresetKind(kind); err != nil {
		return nil, err
	}
	db := config.GetDB()
	var preset Preset
	if err := db.WithContext(ctx).Where("kind = ? AND id = ?", kind, id).Take(&preset).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := db.WithContext(ctx).Delete(&preset).Error; err != nil {
		return nil, err
	}
	removePresetCache(kind)
	return &preset, nil
}

func removePresetCache(kind PresetKind) {
	if err := utils.RemoveRedisList[Preset](string(kind)); err != nil {
		config.LogError(config.GetLogger(), "Preset", "removePresetCache", "RemoveRedisList", kind, err)
	}
}

// ValidatePresetName accepts any name while the list is empty, so a fresh
// install works before presets are configured.
func ValidatePresetName(ctx context.Context, kind PresetKind, nome string) error {
	presets, err := ListPresets(ctx, kind)
	if err != nil {
		return err
	}
	if len(presets) == 0 {
		return nil
	}
	nome = strings.TrimSpace(nome)
	for _, p := range presets {
		if strings.EqualFold(p.Nome, nome) {
			return nil
		}
	}
	return utils.NewValidationError(string(kind), "unknown "+string(kind)+": "+nome)
}

// SeedPresets inserts the embedded default lists, skipping names already present.
func SeedPresets(ctx context.Context) (int, error) {
	defaults, err := LoadDefaults()
	if err != nil {
		return 0, err
	}
	db := config.GetDB()
	inserted := 0
	for _, kind := range AllPresetKinds {
		for _, nome := range defaults.Presets[kind] {
			count, err := utils.ResourceCountWhere[Preset](ctx, "kind = ? AND nome = ?", kind, nome)
			if err != nil {
				return inserted, err
			}
			if count > 0 {
				continue
			}
			if err := db.WithContext(ctx).Create(&Preset{Kind: kind, Nome: nome}).Error; err != nil {
				return inserted, err
			}
			inserted++
		}
		removePresetCache(kind)
	}
	return inserted, nil
}
