// Package crypto implements the end-to-end encryption primitives.
//
// Key exchange: ECDH P-256. Key derivation: HKDF-SHA-256 with a zero salt and
// a fixed application info string. Symmetric encryption: AES-256-GCM with a
// 96-bit random IV per message. Public keys travel as JWK so browser and
// native clients interoperate; private keys never leave the device.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/studychat/studychat-server/internal/model"
)

const (
	aesKeySize = 32
	ivSize     = 12
	// hkdfInfo domain-separates derived keys from any other use of the same
	// ECDH pairs. All participants must use the same string.
	hkdfInfo = "studychat-e2e-v1"
)

var curve = ecdh.P256()

// KeyPair holds a device's ECDH key pair.
type KeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// GenerateKeyPair creates a fresh P-256 key pair usable only for key
// agreement.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// GenerateSymmetricKey creates a random AES-256 key, used as a group room key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return key, nil
}

// PublicKeyJWK is the portable JSON form of a P-256 public key.
type PublicKeyJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// PrivateKeyJWK extends the public form with the private scalar. It is only
// ever serialized into local device storage.
type PrivateKeyJWK struct {
	PublicKeyJWK
	D string `json:"d"`
}

// Identity returns a stable string identifying the key, used as a cache key.
func (j PublicKeyJWK) Identity() string {
	return j.X + ":" + j.Y
}

// ExportPublicKeyJWK converts a public key handle to its JWK form.
func ExportPublicKeyJWK(pub *ecdh.PublicKey) (PublicKeyJWK, error) {
	raw := pub.Bytes()
	// Uncompressed point: 0x04 || X || Y, 32 bytes each for P-256.
	if len(raw) != 65 || raw[0] != 0x04 {
		return PublicKeyJWK{}, fmt.Errorf("unexpected public key encoding (%d bytes)", len(raw))
	}
	return PublicKeyJWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(raw[1:33]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[33:65]),
	}, nil
}

// ExportPrivateKeyJWK converts a key pair's private half to its JWK form.
func ExportPrivateKeyJWK(kp *KeyPair) (PrivateKeyJWK, error) {
	pub, err := ExportPublicKeyJWK(kp.Public)
	if err != nil {
		return PrivateKeyJWK{}, err
	}
	return PrivateKeyJWK{
		PublicKeyJWK: pub,
		D:            base64.RawURLEncoding.EncodeToString(kp.Private.Bytes()),
	}, nil
}

// ImportPublicKeyJWK converts a JWK back into a public key handle.
func ImportPublicKeyJWK(jwk PublicKeyJWK) (*ecdh.PublicKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("unsupported key type %s/%s", jwk.Kty, jwk.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, fmt.Errorf("bad coordinate length %d/%d", len(x), len(y))
	}

	raw := make([]byte, 0, 65)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	raw = append(raw, y...)

	pub, err := curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	return pub, nil
}

// ImportPrivateKeyJWK converts a stored private JWK back into a key pair.
func ImportPrivateKeyJWK(jwk PrivateKeyJWK) (*KeyPair, error) {
	d, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private scalar: %w", err)
	}
	priv, err := curve.NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("failed to import private key: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// DeriveSharedSecret runs ECDH between the local private key and a peer
// public key, then stretches the agreement through HKDF-SHA-256 into an
// AES-256 key. The result is deterministic for a given pair of static keys,
// so callers may cache it.
func DeriveSharedSecret(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh agreement failed: %w", err)
	}

	// Zero salt: the ECDH output is already high-entropy keying material.
	salt := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))

	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return key, nil
}

// Envelope is an encrypted payload: base64 ciphertext (GCM tag included) and
// base64 IV.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random IV.
func Encrypt(key []byte, plaintext string) (Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	ciphertext := aead.Seal(nil, iv, []byte(plaintext), nil)

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Authentication failure and
// wrong-key decryption both return model.ErrDecryptFailed; the caller cannot
// and must not tell them apart.
func Decrypt(key []byte, ciphertext, iv string) (string, error) {
	ctBytes, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(ivBytes) != aead.NonceSize() {
		return "", model.ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, ivBytes, ctBytes, nil)
	if err != nil {
		return "", model.ErrDecryptFailed
	}
	return string(plaintext), nil
}

// WrapKey envelope-encrypts a symmetric key under a wrapping key: the raw key
// bytes are base64-encoded and sealed with the same AEAD used for messages.
func WrapKey(symmetricKey, wrappingKey []byte) (Envelope, error) {
	return Encrypt(wrappingKey, base64.StdEncoding.EncodeToString(symmetricKey))
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(env Envelope, unwrappingKey []byte) ([]byte, error) {
	rawStr, err := Decrypt(unwrappingKey, env.Ciphertext, env.IV)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(rawStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped key: %w", err)
	}
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("unwrapped key has bad length %d", len(key))
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", aesKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return aead, nil
}
