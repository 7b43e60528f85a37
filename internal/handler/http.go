package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/puzzleboard/internal/domain"
	"github.com/puzzleboard/internal/service"
	"github.com/puzzleboard/internal/websocket"
)

// deviceIDHeader identifies the browser profile making the request. Browsers
// without one fall back to a shared default, mirroring a fresh local profile.
const (
	deviceIDHeader  = "X-Device-ID"
	defaultDeviceID = "local"
)

// Handler provides HTTP handlers for the room API
type Handler struct {
	service *service.RoomService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.RoomService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/myrooms", h.MyRooms)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", h.CreateRoom)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", h.GetRoom)
				r.Get("/puzzles", h.GetPuzzles)
				r.Get("/roster", h.GetRoster)
				r.Get("/completions", h.GetCompletions)
				r.Get("/standings", h.GetStandings)
				r.Post("/visit", h.VisitRoom)

				r.Post("/members", h.EnrollMember)
				r.Delete("/members/{memberID}", h.UnenrollMember)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Device-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a domain error to its HTTP status
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrPermissionDenied):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotEligible):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrNotYetLoaded), errors.Is(err, domain.ErrDataUnavailable):
		// First load is in flight; tell the client when to come back
		w.Header().Set("Retry-After", "5")
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func deviceID(r *http.Request) string {
	if id := r.Header.Get(deviceIDHeader); id != "" {
		return id
	}
	return defaultDeviceID
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateRoomRequest is the room creation payload
type CreateRoomRequest struct {
	BoardID      int64  `json:"board_id"`
	SessionToken string `json:"session_token"`
}

// CreateRoom handles room creation
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	room, err := h.service.CreateRoom(r.Context(), deviceID(r), req.BoardID, req.SessionToken)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: room})
}

// GetRoom returns a room's public details
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.GetRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, room)
}

// GetPuzzles returns the puzzle sequence the room competes over
func (h *Handler) GetPuzzles(w http.ResponseWriter, r *http.Request) {
	puzzles, err := h.service.Puzzles(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, puzzles)
}

// GetRoster returns the room's eligible and enrolled members
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.service.Roster(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, roster)
}

// GetCompletions returns the room's latest completion snapshot
func (h *Handler) GetCompletions(w http.ResponseWriter, r *http.Request) {
	snapshot, info, err := h.service.Completions(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"snapshot":     snapshot,
		"stale":        info.Stale,
		"refreshed_at": info.RefreshedAt,
	})
}

// GetStandings returns the room's ranked standings. Stale data still serves
// with the stale flag set; only the window before the first load fails.
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Standings(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, view)
}

// VisitRoom records the device's visit to a room
func (h *Handler) VisitRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.service.VisitRoom(r.Context(), deviceID(r), chi.URLParam(r, "roomID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "recorded"})
}

// MyRooms lists every room the device has visited or created
func (h *Handler) MyRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.MyRooms(r.Context(), deviceID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if rooms == nil {
		rooms = []domain.RoomMembershipRecord{}
	}
	h.writeSuccess(w, rooms)
}

// EnrollMemberRequest is the enrollment payload
type EnrollMemberRequest struct {
	MemberID   int64  `json:"member_id"`
	MemberName string `json:"member_name,omitempty"`
}

// EnrollMember adds a member to the room's standings
func (h *Handler) EnrollMember(w http.ResponseWriter, r *http.Request) {
	var req EnrollMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), deviceID(r), chi.URLParam(r, "roomID"), req.MemberID, req.MemberName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: enrollment})
}

// UnenrollMember removes a member from the room's standings
func (h *Handler) UnenrollMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.Unenroll(r.Context(), deviceID(r), chi.URLParam(r, "roomID"), memberID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "removed"})
}
