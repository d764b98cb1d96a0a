package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar — HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field       { return zap.String("user_agent", v) }

// Campos estándar — negocio

// TenantID crea un campo para el ID del vendor/tenant.
func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

// TenantSlug crea un campo para el slug del vendor/tenant.
func TenantSlug(v string) zap.Field { return zap.String("tenant_slug", v) }

func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// Campos estándar — sistema

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func Count(v int) zap.Field          { return zap.Int("count", v) }
func Key(v string) zap.Field         { return zap.String("key", v) }
func String(key, v string) zap.Field { return zap.String(key, v) }
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
