package client

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/crypto"
	"github.com/studychat/studychat-server/internal/keystore"
	"github.com/studychat/studychat-server/internal/model"
)

// Resolver answers "what symmetric key encrypts this room's traffic". It has
// no state of its own; caching lives in the key store.
type Resolver struct {
	keys   *keystore.Store
	selfID uuid.UUID
}

func NewResolver(keys *keystore.Store, selfID uuid.UUID) *Resolver {
	return &Resolver{keys: keys, selfID: selfID}
}

// RoomKey resolves the room's symmetric key.
//
// DM rooms derive the key from the peer's published public key; a missing
// peer key returns model.ErrPeerKeyUnavailable, a transient state the caller
// waits out rather than an error to act on. Group rooms unwrap the viewer's
// stored room key under the DM key with the creator. Anything else is
// model.ErrKeyResolution: broken room data that no retry will fix.
func (r *Resolver) RoomKey(room Room) ([]byte, error) {
	switch room.Type {
	case string(model.RoomTypeDM):
		peerJWK, ok := r.peerKey(room)
		if !ok {
			return nil, model.ErrPeerKeyUnavailable
		}
		return r.keys.GetDMKey(peerJWK)

	case string(model.RoomTypeGroup):
		if room.EncryptedRoomKey == nil {
			return nil, fmt.Errorf("%w: no wrapped key for viewer", model.ErrKeyResolution)
		}
		creatorJWK, ok := r.memberKey(room, room.CreatedBy)
		if !ok {
			return nil, fmt.Errorf("%w: creator key not published", model.ErrKeyResolution)
		}
		var env crypto.Envelope
		if err := json.Unmarshal([]byte(*room.EncryptedRoomKey), &env); err != nil {
			return nil, fmt.Errorf("%w: malformed wrapped key", model.ErrKeyResolution)
		}
		key, err := r.keys.GetRoomKey(env, creatorJWK)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrKeyResolution, err)
		}
		return key, nil

	default:
		return nil, fmt.Errorf("%w: unknown room type %q", model.ErrKeyResolution, room.Type)
	}
}

// PeerHasKey reports whether the DM peer has published a public key. The send
// and load paths skip crypto entirely while this is false.
func (r *Resolver) PeerHasKey(room Room) bool {
	if room.Type != string(model.RoomTypeDM) {
		return true
	}
	_, ok := r.peerKey(room)
	return ok
}

func (r *Resolver) peerKey(room Room) (crypto.PublicKeyJWK, bool) {
	for _, m := range room.Members {
		if m.UserID != r.selfID {
			return parseMemberKey(m)
		}
	}
	return crypto.PublicKeyJWK{}, false
}

func (r *Resolver) memberKey(room Room, userID uuid.UUID) (crypto.PublicKeyJWK, bool) {
	for _, m := range room.Members {
		if m.UserID == userID {
			return parseMemberKey(m)
		}
	}
	return crypto.PublicKeyJWK{}, false
}

func parseMemberKey(m Member) (crypto.PublicKeyJWK, bool) {
	if m.PublicKeyJWK == nil {
		return crypto.PublicKeyJWK{}, false
	}
	var jwk crypto.PublicKeyJWK
	if err := json.Unmarshal([]byte(*m.PublicKeyJWK), &jwk); err != nil {
		return crypto.PublicKeyJWK{}, false
	}
	return jwk, true
}
