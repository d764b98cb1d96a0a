// Package audit emite eventos de auditoría de autenticación como líneas
// estructuradas en un canal propio ("audit"), separables del log operativo
// por filtro. El sink es el logger del proceso; un destino externo puede
// colgarse del mismo canal sin tocar a los emisores.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// Eventos emitidos por el ciclo de vida de sesiones.
const (
	EventLogin            = "auth.login"
	EventLoginFailed      = "auth.login_failed"
	EventRefreshRotated   = "auth.refresh_rotated"
	EventRotationConflict = "auth.rotation_conflict"
	EventLogout           = "auth.logout"
	EventLogoutAll        = "auth.logout_all"
)

// Log registra un evento con sus campos. Hereda request_id y demás campos
// scoped del contexto.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info(event, fields...)
}
