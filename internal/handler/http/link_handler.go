package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/service"
)

// visitorCookie identifies a browser across visits for uv counting.
const (
	visitorCookie       = "uv"
	visitorCookieMaxAge = 60 * 60 * 24 * 365
)

// LinkHandler handles HTTP requests for short link operations
type LinkHandler struct {
	linkService *service.LinkService
	logger      *zap.Logger
}

// NewLinkHandler creates a new HTTP link handler
func NewLinkHandler(linkService *service.LinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		linkService: linkService,
		logger:      logger,
	}
}

// MoveGroupRequest represents the request body for reassigning a link's group
type MoveGroupRequest struct {
	GroupID string `json:"gid"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// CreateShortLink handles POST /api/v1/links
func (h *LinkHandler) CreateShortLink(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req models.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body too large")
			return
		}
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.linkService.CreateLink(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, result)
}

// RedirectURL handles GET /{shortCode} - redirect to the origin URL
func (h *LinkHandler) RedirectURL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shortCode := vars["shortCode"]

	if shortCode == "" {
		http.Error(w, "Short code is required", http.StatusBadRequest)
		return
	}

	visit := &service.Visit{
		Visitor:   h.ensureVisitor(w, r),
		IP:        h.getClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Time:      time.Now(),
	}

	originURL, err := h.linkService.Resolve(r.Context(), shortCode, visit)
	if err != nil {
		// Unknown and expired codes both land on the not-found page rather
		// than a bare error, matching what a browser user expects.
		if errors.Is(err, models.ErrLinkNotFound) || errors.Is(err, models.ErrLinkExpired) {
			http.Redirect(w, r, h.linkService.NotFoundURL(), http.StatusFound)
			return
		}
		h.handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, originURL, http.StatusFound)
}

// MoveLinkGroup handles PUT /api/v1/links/{shortCode}/group
func (h *LinkHandler) MoveLinkGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shortCode := vars["shortCode"]

	var req MoveGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.linkService.MoveLinkGroup(r.Context(), shortCode, req.GroupID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteLink handles DELETE /api/v1/links/{shortCode}
func (h *LinkHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shortCode := vars["shortCode"]

	if err := h.linkService.DeleteLink(r.Context(), shortCode); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles GET /api/v1/health
func (h *LinkHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ensureVisitor returns the visitor id from the uv cookie, minting and
// setting a fresh one when the browser arrives without it.
func (h *LinkHandler) ensureVisitor(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(visitorCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	visitor := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookie,
		Value:    visitor,
		Path:     "/",
		MaxAge:   visitorCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return visitor
}

// getClientIP extracts the client IP address from the request
func (h *LinkHandler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

func (h *LinkHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *LinkHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	response := &ErrorResponse{
		Error:   errorCode,
		Message: message,
		Code:    statusCode,
	}
	h.writeJSONResponse(w, statusCode, response)
}

func (h *LinkHandler) handleServiceError(w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		h.writeErrorResponse(w, appErr.HTTPStatus, string(appErr.Code), appErr.Message)
		return
	}

	h.logger.Error("Service error", zap.Error(err))
	h.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}
