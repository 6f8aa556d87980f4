package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studychat/studychat-server/internal/model"
)

// NewRouter wires the chat API routes. Everything under /api/chat requires a
// bearer access token except the purge endpoint, which uses its own shared
// secret.
func NewRouter(h *Handler, tokens model.TokenManager) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/chat/purge", h.PurgeExpired).Methods(http.MethodPost)

	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(AuthMiddleware(tokens))

	api.HandleFunc("/keys", h.UploadPublicKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{userID}", h.GetUserPublicKey).Methods(http.MethodGet)
	api.HandleFunc("/users/search", h.SearchUsers).Methods(http.MethodGet)
	api.HandleFunc("/rooms", h.GetRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/dm", h.CreateDMRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/group", h.CreateGroupRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomID}/messages", h.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomID}/messages", h.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/stream", h.Stream).Methods(http.MethodGet)

	return r
}
