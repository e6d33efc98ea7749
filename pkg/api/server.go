// Package api exposes the service over HTTP: the query and search
// endpoints, the staged ingestion protocol, document and session views, the
// intent registry, and webhook management. Handlers bind and validate the
// request, call one service method, and map the result; no business logic
// lives here.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/services"
)

// Pinger reports connectivity of one backing store for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface over the service layer.
type Server struct {
	cfg *config.Config

	queryService    *services.QueryService
	searchService   *services.SearchService
	ingestService   *services.IngestService
	documentService *services.DocumentService
	sessionService  *services.SessionService
	registryService *services.RegistryService
	webhookService  *services.WebhookService

	db Pinger
	kv Pinger

	httpServer *http.Server
}

// NewServer creates the API server. Every service is required; the pingers
// may be nil in tests, in which case the corresponding readiness check is
// skipped.
func NewServer(
	cfg *config.Config,
	query *services.QueryService,
	search *services.SearchService,
	ingest *services.IngestService,
	documents *services.DocumentService,
	sessions *services.SessionService,
	registry *services.RegistryService,
	webhooks *services.WebhookService,
	db Pinger,
	kvStore Pinger,
) *Server {
	if cfg == nil {
		panic("NewServer: cfg must not be nil")
	}
	if query == nil || search == nil || ingest == nil || documents == nil ||
		sessions == nil || registry == nil || webhooks == nil {
		panic("NewServer: all services must be non-nil")
	}
	return &Server{
		cfg:             cfg,
		queryService:    query,
		searchService:   search,
		ingestService:   ingest,
		documentService: documents,
		sessionService:  sessions,
		registryService: registry,
		webhookService:  webhooks,
		db:              db,
		kv:              kvStore,
	}
}

// Handler builds the routed echo instance. Exposed for httptest use.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS("*"))
	e.Use(securityHeaders())
	e.Use(requestLogger())

	// Unauthenticated surface: probes, metrics, and HMAC-verified inbound
	// webhooks (signature replaces the bearer token there).
	e.GET("/health", s.healthHandler)
	e.GET("/ready", s.readyHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/api/v1/webhooks/incoming/:source", s.incomingWebhookHandler)

	v1 := e.Group("/api/v1", bearerAuth(s.cfg.Server))

	v1.POST("/query", s.queryHandler)
	v1.GET("/queries/:id", s.getQueryRecordHandler)
	v1.POST("/search", s.searchHandler)

	v1.POST("/ingest/stage", s.stageHandler)
	v1.GET("/ingest/drafts", s.listDraftsHandler)
	v1.GET("/ingest/drafts/:id", s.getDraftHandler)
	v1.PATCH("/ingest/drafts/:id", s.patchDraftHandler)
	v1.POST("/ingest/drafts/:id/commit", s.commitDraftHandler)
	v1.DELETE("/ingest/drafts/:id", s.discardDraftHandler)

	v1.GET("/documents", s.listDocumentsHandler)
	v1.GET("/documents/:id", s.getDocumentHandler)
	v1.DELETE("/documents/:id", s.archiveDocumentHandler)

	v1.GET("/sessions/:user_id/:session_id", s.getSessionHandler)
	v1.POST("/sessions/:user_id/:session_id/clear", s.clearSessionHandler)

	v1.GET("/registry", s.getRegistryHandler)
	v1.POST("/registry/refresh", s.refreshRegistryHandler)

	v1.POST("/webhooks/subscriptions", s.subscribeHandler)
	v1.GET("/webhooks/subscriptions", s.listSubscriptionsHandler)
	v1.DELETE("/webhooks/subscriptions/:id", s.deactivateSubscriptionHandler)
	v1.GET("/webhooks/subscriptions/:id/deliveries", s.listDeliveriesHandler)
	v1.POST("/webhooks/deliveries/:id/retry", s.retryDeliveryHandler)

	return e
}

// Start serves HTTP on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
