// Package server exposes the model, knowledge base, agent and usage
// operations as a JSON and SSE HTTP API under /api.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/logging"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/relay"
)

const (
	// DefaultBodyLimit caps request bodies when no limit is configured.
	DefaultBodyLimit int64 = 2 << 20
	defaultShutdown        = 10 * time.Second
	defaultReadHeader      = 10 * time.Second
)

// KnowledgeBase answers retrieval-augmented queries and names the
// generation model a query will use.
type KnowledgeBase interface {
	model.Retriever
	ModelArnFor(req model.RAGRequest) (string, error)
}

// Options wires a Server. Chat and Relay are required; a nil KnowledgeBase
// or Agents disables the matching routes with 501.
type Options struct {
	Chat          model.Provider
	KnowledgeBase KnowledgeBase
	Agents        model.AgentInvoker
	Relay         *relay.Relay
	Logger        *zap.Logger

	Production        bool
	BodyLimit         int64
	AllowedOrigins    []string
	H2C               bool
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server routes API requests to the configured backends.
type Server struct {
	chat    model.Provider
	kb      KnowledgeBase
	agents  model.AgentInvoker
	relay   *relay.Relay
	logger  *zap.Logger
	origins *originSet

	production        bool
	bodyLimit         int64
	h2c               bool
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	handler http.Handler
}

// New validates opts and builds the handler chain.
func New(opts Options) (*Server, error) {
	if opts.Chat == nil {
		return nil, errors.New("server: chat provider is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("server: relay is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		chat:              opts.Chat,
		kb:                opts.KnowledgeBase,
		agents:            opts.Agents,
		relay:             opts.Relay,
		logger:            logger,
		origins:           newOriginSet(opts.AllowedOrigins),
		production:        opts.Production,
		bodyLimit:         opts.BodyLimit,
		h2c:               opts.H2C,
		readHeaderTimeout: opts.ReadHeaderTimeout,
		shutdownTimeout:   opts.ShutdownTimeout,
	}
	if s.bodyLimit <= 0 {
		s.bodyLimit = DefaultBodyLimit
	}
	if s.readHeaderTimeout <= 0 {
		s.readHeaderTimeout = defaultReadHeader
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdown
	}

	mux := http.NewServeMux()
	s.routes(mux)
	corsHandler := cors.New(cors.Options{
		AllowOriginFunc:  s.origins.allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", logging.RequestIDHeader},
		ExposedHeaders:   []string{logging.RequestIDHeader},
		AllowCredentials: true,
	})
	s.handler = logging.AccessLog(logger.Named("http"))(s.recoverer(corsHandler.Handler(mux)))
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/rag", s.handleRAG)
	mux.HandleFunc("POST /api/agent/invoke", s.handleAgentInvoke)
	mux.HandleFunc("POST /api/agent/stream", s.handleAgentStream)
	mux.HandleFunc("GET /api/usage/recent", s.handleUsageRecent)
	mux.HandleFunc("GET /api/usage/summary", s.handleUsageSummary)
	mux.HandleFunc("GET /api/usage/cost", s.handleUsageCost)
	mux.HandleFunc("/", s.handleNotFound)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// SetAllowedOrigins replaces the CORS allow list. An empty list reflects
// every origin.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.origins.set(origins)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var handler http.Handler = s
	if s.h2c {
		handler = h2c.NewHandler(s, &http2.Server{})
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: s.readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("h2c", s.h2c))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}
