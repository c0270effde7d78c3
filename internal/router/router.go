package router

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	httpHandler "github.com/Merryfling/shortlink/internal/handler/http"
	"github.com/Merryfling/shortlink/internal/middleware"
	"github.com/Merryfling/shortlink/internal/service"
)

// Router holds the HTTP router and dependencies
type Router struct {
	router      *mux.Router
	linkHandler *httpHandler.LinkHandler
	logger      *zap.Logger
}

// New creates a new HTTP router with all routes and middleware
func New(linkService *service.LinkService, logger *zap.Logger) *Router {
	r := &Router{
		router:      mux.NewRouter(),
		linkHandler: httpHandler.NewLinkHandler(linkService, logger),
		logger:      logger,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.router
}

// setupMiddleware configures global middleware
func (r *Router) setupMiddleware() {
	// Apply middleware in order (first applied = outermost)
	r.router.Use(middleware.HTTPRecoveryMiddleware(r.logger))
	r.router.Use(middleware.HTTPLoggingMiddleware(r.logger))
	r.router.Use(middleware.HTTPSecurityMiddleware())
	r.router.Use(middleware.HTTPContentTypeMiddleware())
	r.router.Use(middleware.HTTPTimeoutMiddleware(30 * time.Second))
	r.router.Use(middleware.HTTPValidationMiddleware())
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes() {
	// Health check endpoints
	r.router.HandleFunc("/health", r.linkHandler.GetHealth).Methods("GET")
	r.router.HandleFunc("/api/v1/health", r.linkHandler.GetHealth).Methods("GET")

	// API v1 routes
	api := r.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/links", r.linkHandler.CreateShortLink).Methods("POST")
	api.HandleFunc("/links/{shortCode}/group", r.linkHandler.MoveLinkGroup).Methods("PUT")
	api.HandleFunc("/links/{shortCode}", r.linkHandler.DeleteLink).Methods("DELETE")

	// Redirect endpoint (must be last to avoid conflicts)
	r.router.HandleFunc("/{shortCode}", r.linkHandler.RedirectURL).Methods("GET")
}
