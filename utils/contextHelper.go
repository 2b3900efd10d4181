package utils

import (
	"context"

	"github.com/mmdatafocus/diplomas_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyDiplomaId     = appctx.ContextKeyDiplomaId
	ContextKeyMessageId     = appctx.ContextKeyMessageId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetDiplomaIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyDiplomaId)
}

func SetDiplomaIdInContext(ctx context.Context, diplomaId int) context.Context {
	return appctx.Set(ctx, ContextKeyDiplomaId, diplomaId)
}

func GetMessageIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyMessageId)
}

func SetMessageIdInContext(ctx context.Context, messageId string) context.Context {
	return appctx.Set(ctx, ContextKeyMessageId, messageId)
}
