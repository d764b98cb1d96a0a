package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// Server envuelve http.Server con defaults sanos y shutdown con gracia.
type Server struct{ srv *http.Server }

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}}
}

// Start bloquea hasta que el listener cierre.
func (s *Server) Start() error {
	logger.Named("http").Info("escuchando", logger.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drena conexiones en curso hasta el deadline del contexto.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
