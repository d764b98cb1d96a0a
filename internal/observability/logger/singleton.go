package logger

import (
	"sync"

	"go.uber.org/zap"
)

// Singleton de proceso. Todo el código del server loggea a través de L()
// o del logger scoped que viaja en el contexto del request.
var (
	mu   sync.Mutex
	root *zap.Logger
)

// Init arma el logger raíz a partir de la config. La primera llamada gana;
// las siguientes son no-ops (útil en tests que comparten proceso).
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = build(cfg)
	}
}

// L retorna el logger raíz. Si nadie llamó Init todavía, se auto-inicializa
// en modo dev para no perder logs tempranos.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = build(Config{Env: "dev", Level: "info"})
	}
	return root
}

// Named cuelga un sub-logger con nombre de componente del raíz.
func Named(name string) *zap.Logger { return L().Named(name) }

// With agrega campos fijos al raíz.
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

// Sync descarga los buffers pendientes; va en un defer de main.
func Sync() error {
	mu.Lock()
	l := root
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
