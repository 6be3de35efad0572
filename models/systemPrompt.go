package models

import (
	"context"
	_ "embed"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type DefaultPrompt struct {
	Description string `yaml:"description"`
	Content     string `yaml:"content"`
}

type Defaults struct {
	Presets map[PresetKind][]string  `yaml:"presets"`
	Prompts map[string]DefaultPrompt `yaml:"prompts"`
}

var (
	defaults     *Defaults
	defaultsErr  error
	defaultsOnce sync.Once
)

// LoadDefaults parses the embedded defaults once.
func LoadDefaults() (*Defaults, error) {
	defaultsOnce.Do(func() {
		var d Defaults
		if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
			defaultsErr = err
			return
		}
		defaults = &d
	})
	return defaults, defaultsErr
}

// SystemPrompt overrides the embedded prompt of one AI flow.
type SystemPrompt struct {
	Key         string    `gorm:"primary_key;size:100" json:"key"`
	Description string    `gorm:"size:255" json:"description"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	UpdatedBy   string    `gorm:"size:150" json:"updatedBy"`
	IsDefault   bool      `gorm:"-" json:"isDefault"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewSystemPrompt struct {
	Content string `json:"content" validate:"required"`
}

/*
caches:
	SystemPrompt:$key (stored as SystemPrompt object)
*/

func promptCacheKey(key string) string {
	return "SystemPrompt:" + key
}

// GetSystemPrompt returns the stored override or the embedded default.
func GetSystemPrompt(ctx context.Context, key string) (*SystemPrompt, error) {
	d, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	def, known := d.Prompts[key]
	if !known {
		return nil, utils.ErrorRecordNotFound
	}

	var prompt SystemPrompt
	exists, err := config.GetRedisObject(promptCacheKey(key), &prompt)
	if err != nil {
		config.LogError(config.GetLogger(), "SystemPrompt", "GetSystemPrompt", "GetRedisObject", key, err)
	}
	if exists {
		return &prompt, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Where("`key` = ?", key).Take(&prompt).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		prompt = SystemPrompt{Key: key, Description: def.Description, Content: strings.TrimSpace(def.Content), IsDefault: true}
	case err != nil:
		return nil, err
	}
	if err := config.SetRedisObject(promptCacheKey(key), &prompt, utils.GetCacheLifespan()); err != nil {
		config.LogError(config.GetLogger(), "SystemPrompt", "GetSystemPrompt", "SetRedisObject", key, err)
	}
	return &prompt, nil
}

func ListSystemPrompts(ctx context.Context) ([]*SystemPrompt, error) {
	d, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(d.Prompts))
	for k := range d.Prompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	results := make([]*SystemPrompt, 0, len(keys))
	for _, k := range keys {
		p, err := GetSystemPrompt(ctx, k)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, nil
}

// UpsertSystemPrompt stores an override. Only keys with an embedded default exist.
func UpsertSystemPrompt(ctx context.Context, key string, input *NewSystemPrompt, author string) (*SystemPrompt, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	d, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	def, known := d.Prompts[key]
	if !known {
		return nil, utils.ErrorRecordNotFound
	}
	prompt := SystemPrompt{
		Key:         key,
		Description: def.Description,
		Content:     strings.TrimSpace(input.Content),
		UpdatedBy:   author,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Save(&prompt).Error; err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(promptCacheKey(key)); err != nil {
		config.LogError(config.GetLogger(), "SystemPrompt", "UpsertSystemPrompt", "RemoveRedisKey", key, err)
	}
	return &prompt, nil
}

// PromptStore serves flow prompts from the database with embedded fallbacks.
type PromptStore struct{}

func (PromptStore) Prompt(ctx context.Context, key string) (string, error) {
	p, err := GetSystemPrompt(ctx, key)
	if err != nil {
		return "", err
	}
	return p.Content, nil
}

// DefaultPromptStore never touches the database. Used by tests and the CLI.
type DefaultPromptStore struct{}

func (DefaultPromptStore) Prompt(_ context.Context, key string) (string, error) {
	d, err := LoadDefaults()
	if err != nil {
		return "", err
	}
	def, ok := d.Prompts[key]
	if !ok {
		return "", utils.ErrorRecordNotFound
	}
	return strings.TrimSpace(def.Content), nil
}
