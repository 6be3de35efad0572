package utils

import (
	"context"
	"fmt"
	"strings"
)

type contextKey string

// Request-scoped values set by SessionMiddleware and the router.
const (
	ContextKeyToken         contextKey = "Token"
	ContextKeyUsername      contextKey = "Username"
	ContextKeyUserId        contextKey = "UserId"
	ContextKeyUserName      contextKey = "UserName"
	ContextKeyUserRole      contextKey = "UserRole"
	ContextKeyCorrelationId contextKey = "CorrelationId"
)

func fromContext[T any](ctx context.Context, key contextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, ContextKeyToken)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return fromContext[int](ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, ContextKeyUserName)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, ContextKeyUserRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyToken, token)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyUserName, name)
}

func SetUserRoleInContext(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ContextKeyUserRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

// GetAuthorFromContext returns the display name used for audit attribution,
// falling back to the username.
func GetAuthorFromContext(ctx context.Context) (string, bool) {
	if name, ok := GetUserNameFromContext(ctx); ok && name != "" {
		return name, true
	}
	if username, ok := GetUsernameFromContext(ctx); ok && username != "" {
		return username, true
	}
	return "", false
}

// SystemAuthor formats the attribution used by automated writers.
func SystemAuthor(flow string) string {
	if flow == "" {
		return "Sistema"
	}
	return fmt.Sprintf("Sistema (%s)", flow)
}

// IsSystemAuthor reports whether author has the form SystemAuthor produces.
func IsSystemAuthor(author string) bool {
	if author == "Sistema" {
		return true
	}
	flow, ok := strings.CutPrefix(author, "Sistema (")
	return ok && strings.HasSuffix(flow, ")") && strings.TrimSpace(strings.TrimSuffix(flow, ")")) != ""
}

// OnBehalfOf attributes an automated write to the flow and to the user who
// confirmed it, e.g. "Sistema (Verificação de Minuta) / Maria Escrevente".
func OnBehalfOf(systemAuthor string, user string) string {
	return systemAuthor + " / " + user
}
