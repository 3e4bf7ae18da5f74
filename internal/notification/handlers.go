package notification

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sapliy/supplyhub/pkg/jsonutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler exposes the notification REST and live-stream endpoints.
type Handler struct {
	svc           *Service
	hub           *Hub
	snapshotLimit int
}

func NewHandler(svc *Service, hub *Hub, snapshotLimit int) *Handler {
	if snapshotLimit <= 0 {
		snapshotLimit = 50
	}
	return &Handler{svc: svc, hub: hub, snapshotLimit: snapshotLimit}
}

// Register mounts the notification routes on the given router. The caller is
// expected to have wrapped the router (or this subrouter) with
// AuthMiddleware.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/notifications", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/notifications", h.List).Methods(http.MethodGet)
	r.HandleFunc("/notifications/stream", h.Stream).Methods(http.MethodGet)
	r.HandleFunc("/notifications/ws", h.StreamWS).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkRead).Methods(http.MethodPost)
}

// Create handles POST /notifications: persist one notification per target
// user, announce them to live connections, then submit the batched email.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	created, emailResult, err := h.svc.CreateAndNotify(r.Context(), &req, "http")
	switch {
	case errors.Is(err, ErrMissingFields):
		jsonutil.WriteError(w, http.StatusBadRequest, "Missing required fields")
		return
	case errors.Is(err, ErrEmailDelivery):
		// Succeeded-but-degraded: the rows exist and were announced, only the
		// email batch failed.
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	case err != nil:
		log.Printf("Create notifications failed: %v", err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to create notifications",
		})
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"notifications": created,
		"emailResult":   emailResult,
	})
}

// List handles GET /notifications?page=&size= for pagination beyond the live
// snapshot window. Newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	notifications, unread, err := h.svc.ListPage(r.Context(), userID, page, size)
	if err != nil {
		log.Printf("List notifications failed for user %d: %v", userID, err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to list notifications",
		})
		return
	}
	if notifications == nil {
		notifications = []*Notification{}
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unreadCount":   unread,
		"page":          page,
		"size":          size,
	})
}

// MarkRead handles POST /notifications/{id}/read. Idempotent: confirming an
// already-read notification is a success, not an error.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	if err := h.svc.MarkRead(r.Context(), userID, id); err != nil {
		log.Printf("Mark read failed for user %d notification %d: %v", userID, id, err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to mark notification read",
		})
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// MarkAllRead handles POST /notifications/read-all for the authenticated
// user. Idempotent; other users' notifications are untouched.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.svc.MarkAllRead(r.Context(), userID); err != nil {
		log.Printf("Mark all read failed for user %d: %v", userID, err)
		jsonutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Failed to mark notifications read",
		})
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
