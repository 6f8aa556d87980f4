package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studychat/studychat-server/internal/model"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "simple", plaintext: "hello"},
		{name: "empty", plaintext: ""},
		{name: "unicode", plaintext: "привет 👋 こんにちは"},
		{name: "long", plaintext: string(make([]byte, 16*1024))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Encrypt(key, tt.plaintext)
			require.NoError(t, err)

			got, err := Decrypt(key, env.Ciphertext, env.IV)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	a, err := Encrypt(key, "same plaintext")
	require.NoError(t, err)
	b, err := Encrypt(key, "same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDeriveSharedSecret_Symmetry(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := DeriveSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	ba, err := DeriveSharedSecret(bob.Private, alice.Public)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	// Both directions decrypt what the other encrypts.
	env, err := Encrypt(ab, "from alice")
	require.NoError(t, err)
	got, err := Decrypt(ba, env.Ciphertext, env.IV)
	require.NoError(t, err)
	assert.Equal(t, "from alice", got)
}

func TestDeriveSharedSecret_Deterministic(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	first, err := DeriveSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	second, err := DeriveSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDeriveSharedSecret_DistinctPeers(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	carol, err := GenerateKeyPair()
	require.NoError(t, err)

	withBob, err := DeriveSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	withCarol, err := DeriveSharedSecret(alice.Private, carol.Public)
	require.NoError(t, err)

	assert.NotEqual(t, withBob, withCarol)
}

func TestWrapUnwrapKey_RoundTrip(t *testing.T) {
	roomKey, err := GenerateSymmetricKey()
	require.NoError(t, err)
	wrappingKey, err := GenerateSymmetricKey()
	require.NoError(t, err)

	env, err := WrapKey(roomKey, wrappingKey)
	require.NoError(t, err)

	unwrapped, err := UnwrapKey(env, wrappingKey)
	require.NoError(t, err)
	assert.Equal(t, roomKey, unwrapped)

	// The unwrapped key is behaviorally identical to the original.
	msg, err := Encrypt(roomKey, "group secret")
	require.NoError(t, err)
	got, err := Decrypt(unwrapped, msg.Ciphertext, msg.IV)
	require.NoError(t, err)
	assert.Equal(t, "group secret", got)
}

func TestUnwrapKey_WrongWrappingKey(t *testing.T) {
	roomKey, err := GenerateSymmetricKey()
	require.NoError(t, err)
	wrappingKey, err := GenerateSymmetricKey()
	require.NoError(t, err)
	otherKey, err := GenerateSymmetricKey()
	require.NoError(t, err)

	env, err := WrapKey(roomKey, wrappingKey)
	require.NoError(t, err)

	_, err = UnwrapKey(env, otherKey)
	assert.ErrorIs(t, err, model.ErrDecryptFailed)
}

func TestDecrypt_TamperDetection(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	otherKey, err := GenerateSymmetricKey()
	require.NoError(t, err)

	env, err := Encrypt(key, "original")
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
		require.NoError(t, err)
		raw[0] ^= 0x01
		tampered := base64.StdEncoding.EncodeToString(raw)

		_, err = Decrypt(key, tampered, env.IV)
		assert.ErrorIs(t, err, model.ErrDecryptFailed)
	})

	t.Run("wrong iv", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(env.IV)
		require.NoError(t, err)
		raw[0] ^= 0x01
		wrongIV := base64.StdEncoding.EncodeToString(raw)

		_, err = Decrypt(key, env.Ciphertext, wrongIV)
		assert.ErrorIs(t, err, model.ErrDecryptFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := Decrypt(otherKey, env.Ciphertext, env.IV)
		assert.ErrorIs(t, err, model.ErrDecryptFailed)
	})

	t.Run("truncated iv", func(t *testing.T) {
		_, err := Decrypt(key, env.Ciphertext, base64.StdEncoding.EncodeToString([]byte("short")))
		assert.ErrorIs(t, err, model.ErrDecryptFailed)
	})
}

func TestDecrypt_MalformedBase64(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	_, err = Decrypt(key, "not base64!!!", "AAAAAAAAAAAAAAAA")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrDecryptFailed)
}

func TestJWK_RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pubJWK, err := ExportPublicKeyJWK(kp.Public)
	require.NoError(t, err)
	assert.Equal(t, "EC", pubJWK.Kty)
	assert.Equal(t, "P-256", pubJWK.Crv)

	privJWK, err := ExportPrivateKeyJWK(kp)
	require.NoError(t, err)
	assert.Equal(t, pubJWK, privJWK.PublicKeyJWK)

	pub, err := ImportPublicKeyJWK(pubJWK)
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(pub))

	restored, err := ImportPrivateKeyJWK(privJWK)
	require.NoError(t, err)
	assert.True(t, kp.Private.Equal(restored.Private))

	// A re-imported pair derives the same shared secrets.
	peer, err := GenerateKeyPair()
	require.NoError(t, err)
	orig, err := DeriveSharedSecret(kp.Private, peer.Public)
	require.NoError(t, err)
	fromJWK, err := DeriveSharedSecret(restored.Private, peer.Public)
	require.NoError(t, err)
	assert.Equal(t, orig, fromJWK)
}

func TestImportPublicKeyJWK_Invalid(t *testing.T) {
	tests := []struct {
		name string
		jwk  PublicKeyJWK
	}{
		{name: "wrong kty", jwk: PublicKeyJWK{Kty: "RSA", Crv: "P-256"}},
		{name: "wrong curve", jwk: PublicKeyJWK{Kty: "EC", Crv: "P-384"}},
		{name: "bad base64", jwk: PublicKeyJWK{Kty: "EC", Crv: "P-256", X: "!!!", Y: "!!!"}},
		{name: "not on curve", jwk: PublicKeyJWK{
			Kty: "EC", Crv: "P-256",
			X: base64.RawURLEncoding.EncodeToString(make([]byte, 32)),
			Y: base64.RawURLEncoding.EncodeToString(make([]byte, 32)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportPublicKeyJWK(tt.jwk)
			assert.Error(t, err)
		})
	}
}

func TestGroupKeyIsolation(t *testing.T) {
	creator, err := GenerateKeyPair()
	require.NoError(t, err)
	member, err := GenerateKeyPair()
	require.NoError(t, err)
	outsider, err := GenerateKeyPair()
	require.NoError(t, err)

	roomKey, err := GenerateSymmetricKey()
	require.NoError(t, err)

	// Room key wrapped for the member only.
	memberDM, err := DeriveSharedSecret(creator.Private, member.Public)
	require.NoError(t, err)
	wrapped, err := WrapKey(roomKey, memberDM)
	require.NoError(t, err)

	// The member recovers it through their own DM derivation.
	memberSide, err := DeriveSharedSecret(member.Private, creator.Public)
	require.NoError(t, err)
	got, err := UnwrapKey(wrapped, memberSide)
	require.NoError(t, err)
	assert.Equal(t, roomKey, got)

	// An outsider with a valid pair and the creator's public key cannot.
	outsiderDM, err := DeriveSharedSecret(outsider.Private, creator.Public)
	require.NoError(t, err)
	_, err = UnwrapKey(wrapped, outsiderDM)
	assert.ErrorIs(t, err, model.ErrDecryptFailed)
}
