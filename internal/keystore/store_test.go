package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studychat/studychat-server/internal/crypto"
	"github.com/studychat/studychat-server/internal/testutil"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *fakePublisher) UploadPublicKey(_ context.Context, keyID string, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, keyID)
	return p.err
}

func (p *fakePublisher) keyIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newTestStore(t *testing.T, pub Publisher) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "keys.db"), pub, testutil.MakeNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Hydrate_GeneratesAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestStore(t, pub)

	assert.False(t, s.Ready())
	require.NoError(t, s.Hydrate(context.Background()))

	assert.True(t, s.Ready())
	assert.NotEmpty(t, s.KeyID())
	assert.Equal(t, []string{s.KeyID()}, pub.keyIDs())

	jwk, err := s.PublicJWK()
	require.NoError(t, err)
	assert.Contains(t, jwk, `"P-256"`)
}

func TestStore_Hydrate_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")

	first, err := New(path, nil, testutil.MakeNoopLogger())
	require.NoError(t, err)
	require.NoError(t, first.Hydrate(context.Background()))
	keyID := first.KeyID()
	firstJWK, err := first.PublicJWK()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(path, nil, testutil.MakeNoopLogger())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Hydrate(context.Background()))

	assert.Equal(t, keyID, second.KeyID())
	secondJWK, err := second.PublicJWK()
	require.NoError(t, err)
	assert.Equal(t, firstJWK, secondJWK)
}

func TestStore_Hydrate_SingleFlight(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestStore(t, pub)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Hydrate(context.Background()))
		}()
	}
	wg.Wait()

	// One generation, one publish, one key pair.
	assert.Len(t, pub.keyIDs(), 1)
}

func TestStore_Hydrate_PublishFailureNonFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("server unreachable")}
	s := newTestStore(t, pub)

	require.NoError(t, s.Hydrate(context.Background()))
	assert.True(t, s.Ready())
}

func TestStore_GetDMKey_MemoizesByPeerIdentity(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Hydrate(context.Background()))

	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerJWK, err := crypto.ExportPublicKeyJWK(peer.Public)
	require.NoError(t, err)

	first, err := s.GetDMKey(peerJWK)
	require.NoError(t, err)
	second, err := s.GetDMKey(peerJWK)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	otherJWK, err := crypto.ExportPublicKeyJWK(other.Public)
	require.NoError(t, err)

	third, err := s.GetDMKey(otherJWK)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestStore_GetDMKey_NotHydrated(t *testing.T) {
	s := newTestStore(t, nil)

	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerJWK, err := crypto.ExportPublicKeyJWK(peer.Public)
	require.NoError(t, err)

	_, err = s.GetDMKey(peerJWK)
	assert.Error(t, err)
}

func TestStore_GetRoomKey(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Hydrate(context.Background()))

	// Creator wraps a room key for this device.
	creator, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	creatorJWK, err := crypto.ExportPublicKeyJWK(creator.Public)
	require.NoError(t, err)

	rawJWK, err := s.PublicJWK()
	require.NoError(t, err)
	var myJWK crypto.PublicKeyJWK
	require.NoError(t, json.Unmarshal([]byte(rawJWK), &myJWK))
	myPub, err := crypto.ImportPublicKeyJWK(myJWK)
	require.NoError(t, err)

	roomKey, err := crypto.GenerateSymmetricKey()
	require.NoError(t, err)
	wrapKey, err := crypto.DeriveSharedSecret(creator.Private, myPub)
	require.NoError(t, err)
	env, err := crypto.WrapKey(roomKey, wrapKey)
	require.NoError(t, err)

	got, err := s.GetRoomKey(env, creatorJWK)
	require.NoError(t, err)
	assert.Equal(t, roomKey, got)
}

func TestStore_Regenerate_ReplacesPairAndFlushesCache(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestStore(t, pub)
	require.NoError(t, s.Hydrate(context.Background()))

	oldKeyID := s.KeyID()

	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerJWK, err := crypto.ExportPublicKeyJWK(peer.Public)
	require.NoError(t, err)

	oldDM, err := s.GetDMKey(peerJWK)
	require.NoError(t, err)

	require.NoError(t, s.Regenerate(context.Background()))

	assert.NotEqual(t, oldKeyID, s.KeyID())
	assert.Equal(t, []string{oldKeyID, s.KeyID()}, pub.keyIDs())

	newDM, err := s.GetDMKey(peerJWK)
	require.NoError(t, err)
	assert.NotEqual(t, oldDM, newDM, "cached secret from the old private key must not survive")
}
