// Package client implements the device-side half of the chat system: the
// HTTP API client, encryption key resolution, the message pipeline and the
// event stream consumer. Plaintext exists only inside this package and its
// callers; everything that crosses the wire is ciphertext.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/model"
)

// Member is a room member as returned by the rooms endpoint.
type Member struct {
	UserID       uuid.UUID `json:"userId"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PublicKeyID  *string   `json:"publicKeyId"`
	PublicKeyJWK *string   `json:"publicKeyJwk"`
}

// Room is a room as returned by the rooms endpoint, resolved for this viewer.
type Room struct {
	ID               uuid.UUID `json:"id"`
	Type             string    `json:"type"`
	Name             string    `json:"name"`
	QuestionID       *int      `json:"questionId"`
	CreatedBy        uuid.UUID `json:"createdBy"`
	ExpiresAt        time.Time `json:"expiresAt"`
	EncryptedRoomKey *string   `json:"encryptedRoomKey"`
	Members          []Member  `json:"members"`
}

// API talks to the chat server. All calls carry the bearer access token.
type API struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewAPI(baseURL, accessToken string) *API {
	return &API{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// UploadPublicKey publishes the device public key. Satisfies the key store's
// publisher contract.
func (a *API) UploadPublicKey(ctx context.Context, keyID string, publicKeyJWK string) error {
	return a.do(ctx, http.MethodPost, "/api/chat/keys", map[string]string{
		"keyId":        keyID,
		"publicKeyJwk": publicKeyJWK,
	}, nil)
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var users []model.User
	path := "/api/chat/users/search?q=" + url.QueryEscape(query)
	if err := a.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (a *API) CreateDMRoom(ctx context.Context, peerID uuid.UUID) (uuid.UUID, error) {
	var resp struct {
		RoomID uuid.UUID `json:"roomId"`
	}
	err := a.do(ctx, http.MethodPost, "/api/chat/rooms/dm", map[string]string{
		"peerId": peerID.String(),
	}, &resp)
	if err != nil {
		return uuid.Nil, err
	}
	return resp.RoomID, nil
}

type CreateGroupRoomRequest struct {
	Name        string               `json:"name"`
	MemberIDs   []uuid.UUID          `json:"memberIds"`
	WrappedKeys map[uuid.UUID]string `json:"wrappedKeys"`
	QuestionID  *int                 `json:"questionId,omitempty"`
	Persistent  bool                 `json:"persistent"`
}

func (a *API) CreateGroupRoom(ctx context.Context, req CreateGroupRoomRequest) (uuid.UUID, error) {
	var resp struct {
		RoomID uuid.UUID `json:"roomId"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/chat/rooms/group", req, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.RoomID, nil
}

func (a *API) GetRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := a.do(ctx, http.MethodGet, "/api/chat/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (a *API) GetMessages(ctx context.Context, roomID uuid.UUID, afterID int64) ([]model.MessageFrame, error) {
	path := fmt.Sprintf("/api/chat/rooms/%s/messages", roomID)
	if afterID > 0 {
		path = fmt.Sprintf("%s?after=%d", path, afterID)
	}
	var frames []model.MessageFrame
	if err := a.do(ctx, http.MethodGet, path, nil, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

type SendMessageRequest struct {
	Ciphertext        string     `json:"ciphertext"`
	IV                string     `json:"iv"`
	SenderPublicKeyID *string    `json:"senderPublicKeyId,omitempty"`
	ContentType       string     `json:"contentType"`
	ClientRef         *uuid.UUID `json:"clientRef,omitempty"`
}

func (a *API) SendMessage(ctx context.Context, roomID uuid.UUID, req SendMessageRequest) (model.MessageFrame, error) {
	var frame model.MessageFrame
	path := fmt.Sprintf("/api/chat/rooms/%s/messages", roomID)
	if err := a.do(ctx, http.MethodPost, path, req, &frame); err != nil {
		return model.MessageFrame{}, err
	}
	return frame, nil
}

// OpenStream opens the server event stream. The caller owns the returned body
// and must close it.
func (a *API) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/chat/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; the per-call timeout must not apply.
	streamClient := &http.Client{Transport: a.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
