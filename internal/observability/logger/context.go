package logger

import (
	"context"

	"go.uber.org/zap"
)

// El logger del request viaja en el contexto: el middleware de logging lo
// inyecta con request_id y tenant ya resueltos, y las capas de abajo lo
// recuperan con From sin conocer al middleware.

type ctxKey struct{}

// ToContext guarda l en ctx.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From recupera el logger del contexto. Con un ctx pelado (o nil) cae al
// singleton, así que siempre es seguro loggear con el resultado.
func From(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return L()
}
