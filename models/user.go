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

type UserRole string

const (
	UserRoleTabeliao   UserRole = "tabeliao"
	UserRoleEscrevente UserRole = "escrevente"
	UserRoleAtendente  UserRole = "atendente"
)

const DefaultSessionHours = 12

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleTabeliao, UserRoleEscrevente, UserRoleAtendente:
		return true
	}
	return false
}

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:150;not null" json:"name"`
	Role      UserRole  `gorm:"size:20;not null;default:'escrevente'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required,max=100"`
	Name     string   `json:"name" validate:"required,max=150"`
	Role     UserRole `json:"role"`
}

/*
caches:
	User:$username
	Token:$token -> username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

// UpsertUser creates the user or refreshes its name and role. Used by the ops CLI.
func UpsertUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = UserRoleEscrevente
	}
	if !input.Role.IsValid() {
		return nil, utils.NewValidationError("role", "invalid role")
	}
	db := config.GetDB()
	var user User
	err := db.WithContext(ctx).Where("username = ?", input.Username).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{Username: input.Username, Name: input.Name, Role: input.Role, IsActive: utils.NewTrue()}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"Name":     input.Name,
			"Role":     input.Role,
			"IsActive": true,
		}).Error; err != nil {
			return nil, err
		}
	}
	if err := user.RemoveInstanceRedis(); err != nil {
		config.LogError(config.GetLogger(), "User", "UpsertUser", "RemoveInstanceRedis", user.Username, err)
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		config.LogError(config.GetLogger(), "User", "GetUserByUsername", "GetRedisObject", username, err)
	}
	if exists {
		return &user, nil
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject("User:"+username, &user, utils.GetCacheLifespan()); err != nil {
		config.LogError(config.GetLogger(), "User", "GetUserByUsername", "SetRedisObject", username, err)
	}
	return &user, nil
}

// CreateSession issues an opaque token resolved by the session middleware.
func CreateSession(ctx context.Context, username string, ttl time.Duration) (string, error) {
	if config.GetRedisDB() == nil {
		return "", errors.New("sessions require redis")
	}
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", utils.ErrUnauthorized
	}
	if ttl <= 0 {
		ttl = DefaultSessionHours * time.Hour
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := config.SetRedisValue("Token:"+token, user.Username, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveSession returns the user behind token; ErrUnauthorized when unknown or expired.
func ResolveSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, utils.ErrUnauthorized
	}
	username, ok, err := config.GetRedisValue("Token:" + token)
	if err != nil {
		return nil, err
	}
	if !ok || username == "" {
		return nil, utils.ErrUnauthorized
	}
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.ErrUnauthorized
		}
		return nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, utils.ErrUnauthorized
	}
	return user, nil
}

func RevokeSession(ctx context.Context, token string) error {
	return config.RemoveRedisKey("Token:" + token)
}
