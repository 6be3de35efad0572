package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is an assistant chat owned by one user.
type Conversation struct {
	ID        string                 `gorm:"primary_key;size:36" json:"id"`
	Username  string                 `gorm:"size:100;not null;index" json:"-"`
	Title     string                 `gorm:"size:200" json:"title"`
	Messages  []*ConversationMessage `gorm:"foreignKey:ConversationId" json:"messages,omitempty"`
	CreatedAt time.Time              `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time              `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

type ConversationMessage struct {
	ID             int         `gorm:"primary_key" json:"id"`
	ConversationId string      `gorm:"size:36;not null;index" json:"-"`
	Role           MessageRole `gorm:"size:10;not null" json:"role"`
	Content        string      `gorm:"type:mediumtext;not null" json:"content"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

func ListConversations(ctx context.Context, username string) ([]*Conversation, error) {
	db := config.GetDB()
	var results []*Conversation
	if err := db.WithContext(ctx).Where("username = ?", username).Order("updated_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetConversation hides conversations of other users as not found.
func GetConversation(ctx context.Context, username string, id string) (*Conversation, error) {
	db := config.GetDB()
	var conv Conversation
	if err := db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ? AND username = ?", id, username).
		Take(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func CreateConversation(ctx context.Context, username string, title string) (*Conversation, error) {
	if username == "" {
		return nil, utils.ErrUnauthorized
	}
	conv := Conversation{ID: uuid.NewString(), Username: username, Title: strings.TrimSpace(title)}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func DeleteConversation(ctx context.Context, username string, id string) (*Conversation, error) {
	conv, err := GetConversation(ctx, username, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("conversation_id = ?", id).Delete(&ConversationMessage{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(conv).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendConversationMessages stores a user/model exchange and bumps updated_at.
// A non-empty title is set only when the conversation has none.
func AppendConversationMessages(ctx context.Context, conv *Conversation, title string, messages ...*ConversationMessage) error {
	db := config.GetDB()
	tx := db.Begin()
	for _, m := range messages {
		m.ConversationId = conv.ID
		if err := tx.WithContext(ctx).Create(m).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	updates := map[string]interface{}{"UpdatedAt": time.Now()}
	if conv.Title == "" && strings.TrimSpace(title) != "" {
		updates["Title"] = strings.TrimSpace(title)
	}
	if err := tx.WithContext(ctx).Model(conv).Updates(updates).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, messages...)
	return nil
}
