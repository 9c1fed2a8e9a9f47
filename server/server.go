// Package server runs the HTTP listener in front of the asset handler.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const readHeaderTimeout = 10 * time.Second

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	mux        *http.ServeMux
}

// New creates a server with a mux that already answers GET /healthz.
func New(addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		mux: mux,
	}
}

// Handle registers an additional handler on the server's mux.
// Must be called before Serve.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Use wraps the whole mux with middleware. The first middleware is the outermost.
// Must be called before Serve.
func (s *Server) Use(middleware ...Middleware) {
	s.httpServer.Handler = Chain(s.mux, middleware...)
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the socket. Must be called before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("must call Listen before Serve")
	}
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
