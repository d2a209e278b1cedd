package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/exchange_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyScopeId       = appctx.ContextKeyScopeId
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId

	ContextKeyIsOperator     = appctx.ContextKeyIsOperator
	ContextKeySkipScopeGuard = appctx.ContextKeySkipScopeGuard
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetScopeIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyScopeId)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetScopeIdInContext(ctx context.Context, scopeId string) context.Context {
	return appctx.Set(ctx, ContextKeyScopeId, scopeId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetSkipScopeGuardInContext(ctx context.Context) context.Context {
	return appctx.Set(ctx, ContextKeySkipScopeGuard, true)
}
