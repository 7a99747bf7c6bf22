// Package server provides the public entry point for initializing the
// fleet control plane. It lives under pkg/ rather than internal/ so a
// downstream composition (e.g. a hosted variant with its own auth and
// billing middleware) can import it and wrap the returned Handler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/agent"
	"github.com/fleetgrid/control-plane/internal/collab"
	"github.com/fleetgrid/control-plane/internal/config"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/internal/httpapi"
	"github.com/fleetgrid/control-plane/internal/registry"
	"github.com/fleetgrid/control-plane/internal/subscription"
	"github.com/fleetgrid/control-plane/internal/telemetry"
	"github.com/fleetgrid/control-plane/pkg/models"
)

// Server holds the initialized fleet control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry owns every live agent's lifecycle, keyed by OwnerKey.
	// Exposed so an embedder can inspect or pre-warm agents.
	Registry *registry.Registry

	// ModelClient, VectorStore, WorkflowDispatcher, MessageBus are the
	// swappable external-collaborator ports every agent is handed via
	// its Deps. Exposed so an embedder can configure them (for example
	// RegisterDriver on ModelClient) before serving traffic; agents hold
	// these same instances, so assigning a new value to a field does not
	// change what the agents use.
	ModelClient        *collab.StubModelClient
	VectorStore        *collab.EmbeddedVectorStore
	WorkflowDispatcher *collab.StubWorkflowDispatcher
	MessageBus         *collab.StubMessageBus

	// Config is the resolved server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the control plane from environment-derived configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	modelClient := collab.NewStubModelClient()
	vectorStore := collab.NewEmbeddedVectorStore()
	dispatcher := collab.NewStubWorkflowDispatcher()
	bus := collab.NewStubMessageBus()

	factory := func(owner fleetpath.OwnerKey) agent.Deps {
		return agent.Deps{
			ModelClient:            modelClient,
			VectorStore:            vectorStore,
			WorkflowDispatcher:     dispatcher,
			MessageBus:             bus,
			MsgMemRing:             cfg.Fleet.MsgMemRing,
			MsgRetention:           cfg.Fleet.MsgRetention,
			ReorderAmountThreshold: cfg.Fleet.ApprovalAmountThreshold,
			ApprovalWait:           cfg.Fleet.ApprovalWait,
			DefaultAgentType:       models.AgentType(cfg.Fleet.DefaultAgentType),
		}
	}

	reg := registry.New(cfg.Store.DataDir, factory)

	handlers := &httpapi.Handlers{
		Registry: reg,
		Cfg:      cfg,
		SubCfg: subscription.Config{
			PingInterval: cfg.Fleet.PingInterval,
			IdleMax:      cfg.Fleet.IdleMax,
		},
		Version: cfg.Version,
	}

	log.Info().
		Str("dataDir", cfg.Store.DataDir).
		Str("version", cfg.Version).
		Msg("fleet control plane initialized")

	return &Server{
		Handler:            httpapi.NewRouter(handlers),
		Registry:           reg,
		ModelClient:        modelClient,
		VectorStore:        vectorStore,
		WorkflowDispatcher: dispatcher,
		MessageBus:         bus,
		Config:             cfg,
		Port:               cfg.Port,
		ShutdownFunc:       shutdown,
	}, nil
}

// httpServer builds the *http.Server this Server should be served behind,
// with the teacher's read/write/idle timeout defaults.
func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.Port),
		Handler:      s.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// ListenAndServe blocks serving HTTP until the given context is canceled,
// then shuts down gracefully within 15 seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := s.httpServer()

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("fleet control plane: shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
