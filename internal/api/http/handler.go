package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
	"github.com/studychat/studychat-server/internal/service"
)

// ChatService is the chat core as the HTTP layer sees it.
type ChatService interface {
	UploadPublicKey(ctx context.Context, userID uuid.UUID, keyID, publicKeyJWK string) error
	GetUserPublicKey(ctx context.Context, userID uuid.UUID) (model.PublicKey, error)
	SearchUsers(ctx context.Context, userID uuid.UUID, query string) ([]model.User, error)
	CreateDMRoom(ctx context.Context, userID, peerID uuid.UUID) (uuid.UUID, error)
	CreateGroupRoom(ctx context.Context, params model.CreateGroupRoomParams) (uuid.UUID, error)
	SendMessage(ctx context.Context, params model.SendMessageParams) (model.Message, error)
	GetRooms(ctx context.Context, userID uuid.UUID) ([]model.RoomInfo, error)
	GetMessages(ctx context.Context, userID, roomID uuid.UUID, afterID int64) ([]model.Message, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// Streamer runs one client's event stream to completion.
type Streamer interface {
	Run(ctx context.Context, userID uuid.UUID, w service.EventWriter) error
}

// Handler serves the chat HTTP API.
type Handler struct {
	chat       ChatService
	streamer   Streamer
	logger     *logger.Logger
	cronSecret string
}

func NewHandler(chat ChatService, streamer Streamer, logger *logger.Logger, cronSecret string) *Handler {
	return &Handler{
		chat:       chat,
		streamer:   streamer,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

type uploadKeyRequest struct {
	KeyID        string `json:"keyId"`
	PublicKeyJWK string `json:"publicKeyJwk"`
}

func (h *Handler) UploadPublicKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req uploadKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.chat.UploadPublicKey(r.Context(), userID, req.KeyID, req.PublicKeyJWK); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type publicKeyResponse struct {
	KeyID        string `json:"keyId"`
	UserID       string `json:"userId"`
	PublicKeyJWK string `json:"publicKeyJwk"`
}

func (h *Handler) GetUserPublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserIDFromContext(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	targetID, err := uuid.Parse(mux.Vars(r)["userID"])
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	key, err := h.chat.GetUserPublicKey(r.Context(), targetID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, publicKeyResponse{
		KeyID:        key.KeyID,
		UserID:       key.UserID.String(),
		PublicKeyJWK: key.PublicKeyJWK,
	})
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	users, err := h.chat.SearchUsers(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{ID: u.ID.String(), Username: u.Username, DisplayName: u.DisplayName})
	}
	h.writeJSON(w, http.StatusOK, out)
}

type createDMRequest struct {
	PeerID uuid.UUID `json:"peerId"`
}

type roomCreatedResponse struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) CreateDMRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PeerID == uuid.Nil {
		http.Error(w, "peerId is required", http.StatusBadRequest)
		return
	}

	roomID, err := h.chat.CreateDMRoom(r.Context(), userID, req.PeerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, roomCreatedResponse{RoomID: roomID.String()})
}

type createGroupRequest struct {
	Name        string               `json:"name"`
	MemberIDs   []uuid.UUID          `json:"memberIds"`
	WrappedKeys map[uuid.UUID]string `json:"wrappedKeys"`
	QuestionID  *int                 `json:"questionId"`
	Persistent  bool                 `json:"persistent"`
}

func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	roomID, err := h.chat.CreateGroupRoom(r.Context(), model.CreateGroupRoomParams{
		UserID:      userID,
		Name:        req.Name,
		MemberIDs:   req.MemberIDs,
		WrappedKeys: req.WrappedKeys,
		QuestionID:  req.QuestionID,
		Persistent:  req.Persistent,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, roomCreatedResponse{RoomID: roomID.String()})
}

type memberResponse struct {
	UserID       string  `json:"userId"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"displayName"`
	PublicKeyID  *string `json:"publicKeyId"`
	PublicKeyJWK *string `json:"publicKeyJwk"`
}

type roomResponse struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Name             string           `json:"name,omitempty"`
	QuestionID       *int             `json:"questionId,omitempty"`
	CreatedBy        string           `json:"createdBy"`
	ExpiresAt        string           `json:"expiresAt"`
	EncryptedRoomKey *string          `json:"encryptedRoomKey,omitempty"`
	Members          []memberResponse `json:"members"`
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := h.chat.GetRooms(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		members := make([]memberResponse, 0, len(room.Members))
		for _, m := range room.Members {
			members = append(members, memberResponse{
				UserID:       m.UserID.String(),
				Username:     m.Username,
				DisplayName:  m.DisplayName,
				PublicKeyID:  m.PublicKeyID,
				PublicKeyJWK: m.PublicKeyJWK,
			})
		}
		out = append(out, roomResponse{
			ID:               room.ID.String(),
			Type:             string(room.Type),
			Name:             room.Name,
			QuestionID:       room.QuestionID,
			CreatedBy:        room.CreatedBy.String(),
			ExpiresAt:        room.ExpiresAt.UTC().Format(time.RFC3339),
			EncryptedRoomKey: room.EncryptedRoomKey,
			Members:          members,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	Ciphertext        string     `json:"ciphertext"`
	IV                string     `json:"iv"`
	SenderPublicKeyID *string    `json:"senderPublicKeyId"`
	ContentType       string     `json:"contentType"`
	ClientRef         *uuid.UUID `json:"clientRef"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID, err := uuid.Parse(mux.Vars(r)["roomID"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ciphertext == "" || req.IV == "" {
		http.Error(w, "ciphertext and iv are required", http.StatusBadRequest)
		return
	}
	if req.ContentType == "" {
		req.ContentType = "text"
	}

	msg, err := h.chat.SendMessage(r.Context(), model.SendMessageParams{
		UserID:            userID,
		RoomID:            roomID,
		Ciphertext:        req.Ciphertext,
		IV:                req.IV,
		SenderPublicKeyID: req.SenderPublicKeyID,
		ContentType:       req.ContentType,
		ClientRef:         req.ClientRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewMessageFrame(msg))
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID, err := uuid.Parse(mux.Vars(r)["roomID"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		afterID, err = strconv.ParseInt(after, 10, 64)
		if err != nil || afterID < 0 {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
	}

	messages, err := h.chat.GetMessages(r.Context(), userID, roomID, afterID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]*model.MessageFrame, 0, len(messages))
	for _, m := range messages {
		out = append(out, model.NewMessageFrame(m))
	}
	h.writeJSON(w, http.StatusOK, out)
}

type purgeResponse struct {
	Deleted int `json:"deleted"`
}

// PurgeExpired is called by an external scheduler, authenticated by a shared
// secret instead of a user token.
func (h *Handler) PurgeExpired(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if h.cronSecret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deleted, err := h.chat.PurgeExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, purgeResponse{Deleted: deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrNotMember):
		http.Error(w, "not a room member", http.StatusForbidden)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
