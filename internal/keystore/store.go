// Package keystore owns the device key pair lifecycle: generation on first
// use, persistence in a local bbolt file, publication of the public half, and
// memoized DM key derivation.
package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/studychat/studychat-server/internal/crypto"
	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
)

var (
	bucketDeviceKeys = []byte("device_keys")
	keyPairRecord    = []byte("keypair")
)

// Publisher uploads the device's public key to the server directory.
type Publisher interface {
	UploadPublicKey(ctx context.Context, keyID string, publicKeyJWK string) error
}

type storedKeyPair struct {
	PublicJWK  crypto.PublicKeyJWK  `json:"publicJwk"`
	PrivateJWK crypto.PrivateKeyJWK `json:"privateJwk"`
	KeyID      string               `json:"keyId"`
}

// Store holds the device key pair for the session. The private key never
// leaves the local bbolt file.
type Store struct {
	db        *bolt.DB
	publisher Publisher
	logger    *logger.Logger

	mu         sync.Mutex
	hydrating  bool
	hydrated   bool
	hydrateErr error
	hydrateCh  chan struct{}

	keyID   string
	pubJWK  crypto.PublicKeyJWK
	keyPair *crypto.KeyPair

	// dmKeys memoizes derived DM keys by peer key identity. Derivation is a
	// pure function of two static pairs, so entries never go stale except on
	// Regenerate, which flushes the whole map.
	dmKeys map[string][]byte
}

// New opens (or creates) the key store file at path.
func New(path string, publisher Publisher, logger *logger.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeviceKeys)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize key store: %w", err)
	}

	return &Store{
		db:        db,
		publisher: publisher,
		logger:    logger,
		dmKeys:    make(map[string][]byte),
	}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hydrate loads the persisted key pair, generating and publishing one on
// first use. It is idempotent and single-flight: concurrent callers share one
// in-flight initialization and its result.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrated {
		defer s.mu.Unlock()
		return s.hydrateErr
	}
	if s.hydrating {
		ch := s.hydrateCh
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.hydrateErr
	}
	s.hydrating = true
	s.hydrateCh = make(chan struct{})
	s.mu.Unlock()

	err := s.hydrate(ctx)

	s.mu.Lock()
	s.hydrated = true
	s.hydrating = false
	s.hydrateErr = err
	close(s.hydrateCh)
	s.mu.Unlock()
	return err
}

func (s *Store) hydrate(ctx context.Context) error {
	stored, err := s.load()
	if err != nil {
		return err
	}

	if stored != nil {
		kp, err := crypto.ImportPrivateKeyJWK(stored.PrivateJWK)
		if err != nil {
			return fmt.Errorf("failed to import stored key pair: %w", err)
		}
		s.mu.Lock()
		s.keyID = stored.KeyID
		s.pubJWK = stored.PublicJWK
		s.keyPair = kp
		s.mu.Unlock()
		s.publish(ctx)
		return nil
	}

	if err := s.generateAndPersist(); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

func (s *Store) generateAndPersist() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	pubJWK, err := crypto.ExportPublicKeyJWK(kp.Public)
	if err != nil {
		return err
	}
	privJWK, err := crypto.ExportPrivateKeyJWK(kp)
	if err != nil {
		return err
	}
	keyID := uuid.NewString()

	if err := s.save(storedKeyPair{PublicJWK: pubJWK, PrivateJWK: privJWK, KeyID: keyID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.keyID = keyID
	s.pubJWK = pubJWK
	s.keyPair = kp
	s.mu.Unlock()
	return nil
}

// publish uploads the public key. Failure degrades to "peers cannot reach me
// yet" and is only logged; a rooms_changed event follows the eventual upload.
func (s *Store) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	keyID, pubJWK := s.KeyID(), s.publicJWK()
	raw, err := json.Marshal(pubJWK)
	if err != nil {
		s.logger.Error("failed to marshal public key", "error", err)
		return
	}
	if err := s.publisher.UploadPublicKey(ctx, keyID, string(raw)); err != nil {
		s.logger.Warn("failed to publish public key", "error", err)
	}
}

func (s *Store) load() (*storedKeyPair, error) {
	var stored *storedKeyPair
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDeviceKeys).Get(keyPairRecord)
		if raw == nil {
			return nil
		}
		var kp storedKeyPair
		if err := json.Unmarshal(raw, &kp); err != nil {
			return fmt.Errorf("failed to decode stored key pair: %w", err)
		}
		stored = &kp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) save(kp storedKeyPair) error {
	raw, err := json.Marshal(kp)
	if err != nil {
		return fmt.Errorf("failed to encode key pair: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeviceKeys).Put(keyPairRecord, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to persist key pair: %w", err)
	}
	return nil
}

// Ready reports whether crypto operations may proceed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated && s.hydrateErr == nil && s.keyPair != nil
}

// KeyID returns the opaque identifier of the active key pair.
func (s *Store) KeyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyID
}

// PublicJWK returns the JSON form of the device public key.
func (s *Store) PublicJWK() (string, error) {
	raw, err := json.Marshal(s.publicJWK())
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(raw), nil
}

func (s *Store) publicJWK() crypto.PublicKeyJWK {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubJWK
}

// GetDMKey resolves the shared symmetric key for a 1:1 conversation with the
// peer identified by peerJWK, memoizing by peer key identity.
func (s *Store) GetDMKey(peerJWK crypto.PublicKeyJWK) ([]byte, error) {
	s.mu.Lock()
	if s.keyPair == nil {
		s.mu.Unlock()
		return nil, model.ErrKeyStoreNotReady
	}
	priv := s.keyPair.Private
	if cached, ok := s.dmKeys[peerJWK.Identity()]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	peerPub, err := crypto.ImportPublicKeyJWK(peerJWK)
	if err != nil {
		return nil, fmt.Errorf("failed to import peer key: %w", err)
	}
	shared, err := crypto.DeriveSharedSecret(priv, peerPub)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dmKeys[peerJWK.Identity()] = shared
	s.mu.Unlock()
	return shared, nil
}

// GetRoomKey unwraps a group room key: the envelope was wrapped under the DM
// key between this device and the room creator identified by creatorJWK.
func (s *Store) GetRoomKey(env crypto.Envelope, creatorJWK crypto.PublicKeyJWK) ([]byte, error) {
	dmKey, err := s.GetDMKey(creatorJWK)
	if err != nil {
		return nil, err
	}
	return crypto.UnwrapKey(env, dmKey)
}

// Regenerate replaces the device key pair, persists and publishes the new
// one, and flushes the DM key cache: secrets derived from the old private key
// must never be served again.
func (s *Store) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	if !s.hydrated || s.hydrateErr != nil {
		s.mu.Unlock()
		return model.ErrKeyStoreNotReady
	}
	s.mu.Unlock()

	if err := s.generateAndPersist(); err != nil {
		return err
	}

	s.mu.Lock()
	s.dmKeys = make(map[string][]byte)
	s.mu.Unlock()

	s.publish(ctx)
	return nil
}
