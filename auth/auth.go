// Package auth implements the ECDH handshake, session-key derivation,
// AES-128-CTR confidentiality, and tag-envelope signing used by ARBAE
// (spec.md §4.4/§6). Grounded on authentication_helper.rs for exact
// semantics; uses stdlib crypto/* for the named fixed-parameter primitives
// the spec treats as external collaborators (see DESIGN.md).
package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // spec-mandated primitive, not a security choice of ours
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// NonceSize is the fixed nonce (AES-CTR IV) length in bytes.
const NonceSize = 16

// SessionKeySize is the AES-128 key length in bytes.
const SessionKeySize = 16

// ErrSignatureMismatch indicates a decrypted tag envelope's embedded nonce
// signature did not match the nonce sent in the clear.
var ErrSignatureMismatch = errors.New("auth: nonce signature mismatch")

// GeneratePrivateKey creates an ephemeral ECDH P-256 key pair.
func GeneratePrivateKey() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("auth: generate_private_key: %w", err)
	}
	return priv, nil
}

// PublicKeyBytes returns the X9.62 uncompressed-point encoding of priv's
// public key, as sent on the wire.
func PublicKeyBytes(priv *ecdh.PrivateKey) []byte {
	return priv.PublicKey().Bytes()
}

// DoKeyExchange runs the ECDH agreement against a peer public key received
// on the wire, then derives the 128-bit session key via
// SHA-256(shared_secret || lex-max(pub1,pub2) || lex-min(pub1,pub2)),
// truncated to SessionKeySize — identical regardless of which side calls
// it with which public key first, since lexicographic order of the two
// public keys (not call order) picks the concatenation order.
func DoKeyExchange(priv *ecdh.PrivateKey, myPublicKey, remotePublicKey []byte) ([]byte, error) {
	remotePub, err := ecdh.P256().NewPublicKey(remotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth: do_key_exchange: parse remote public key: %w", err)
	}
	sharedSecret, err := priv.ECDH(remotePub)
	if err != nil {
		return nil, fmt.Errorf("auth: do_key_exchange: %w", err)
	}
	return DeriveSessionKey(sharedSecret, myPublicKey, remotePublicKey), nil
}

// DeriveSessionKey implements generate_secure_secret: SHA-256 of the
// shared secret followed by the two public keys concatenated in
// lexicographic (byte-wise) order, largest first, then truncated to
// SessionKeySize.
func DeriveSessionKey(sharedSecret, pub1, pub2 []byte) []byte {
	h := sha256.New()
	h.Write(sharedSecret)
	if bytes.Compare(pub1, pub2) >= 0 {
		h.Write(pub1)
		h.Write(pub2)
	} else {
		h.Write(pub2)
		h.Write(pub1)
	}
	digest := h.Sum(nil)
	return digest[:SessionKeySize]
}

// GenerateNonce returns a fresh random 128-bit nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("auth: generate_nonce: %w", err)
	}
	return nonce, nil
}

// AESCTR128 encrypts (or, symmetrically, decrypts) message under key using
// AES-128 in CTR mode with nonce as the initial counter block. Encryption
// and decryption are the same operation, as CTR mode is a symmetric
// XOR-keystream construction.
func AESCTR128(message, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:SessionKeySize])
	if err != nil {
		return nil, fmt.Errorf("auth: aes_ctr_128: new cipher: %w", err)
	}
	stream := cipher.NewCTR(block, nonce[:NonceSize])
	out := make([]byte, len(message))
	stream.XORKeyStream(out, message)
	return out, nil
}

// SHA256 returns the SHA-256 digest of message.
func SHA256(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}

// SHA1 returns the SHA-1 digest of message (used only for the fixed-length
// user_name_hash derivation, per spec.md §3/§6 — not for password storage).
func SHA1(message []byte) []byte {
	sum := sha1.Sum(message) //nolint:gosec // spec-mandated primitive
	return sum[:]
}

// Base64 standard-encodes message (with padding), matching the teacher's
// base64::encode default.
func Base64(message []byte) string {
	return base64.StdEncoding.EncodeToString(message)
}

// UserNameHash returns base64(SHA-1(userName)) — the fixed-length,
// collision-resistant per-tenant namespace prefix (spec.md §3).
func UserNameHash(userName string) string {
	return Base64(SHA1([]byte(userName)))
}

// ActualTag prepends a user_name_hash to a user-visible tag to form the
// physical UBAE tag.
func ActualTag(userNameHash, tag string) string {
	return userNameHash + tag
}

// PasswordStoreTag returns the physical tag under which a user's SHA-256
// password hash is stored. "#*" is prepended because neither character
// appears in the base64 alphabet, so this key can never collide with any
// per-user tag (spec.md §6).
func PasswordStoreTag(userNameHash string) string {
	return "#*" + userNameHash
}

// EncryptTagEnvelope builds the nonce-signed, AES-128-CTR encrypted
// envelope for a client-supplied tag: nonce, then
// AES-CTR(session_key, nonce, nonce || tag_bytes). Returns the nonce and
// the encrypted envelope, both to be sent in sequence on the wire.
func EncryptTagEnvelope(tag string, sessionKey []byte) (nonce, envelope []byte, err error) {
	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}
	plain := append(append([]byte{}, nonce...), []byte(tag)...)
	envelope, err = AESCTR128(plain, sessionKey, nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: encrypt_tag_envelope: %w", err)
	}
	return nonce, envelope, nil
}

// DecryptTagEnvelope decrypts a received (nonce, envelope) pair under
// sessionKey, verifies the embedded nonce signature equals the nonce sent
// in the clear (binding the request to this session — spec.md §4.4), and
// returns the physical tag with userNameHash prepended.
func DecryptTagEnvelope(nonce, envelope []byte, userNameHash string, sessionKey []byte) (string, error) {
	plain, err := AESCTR128(envelope, sessionKey, nonce)
	if err != nil {
		return "", fmt.Errorf("auth: decrypt_tag_envelope: %w", err)
	}
	if len(plain) < NonceSize {
		return "", fmt.Errorf("auth: decrypt_tag_envelope: envelope too short")
	}
	signature, tagBytes := plain[:NonceSize], plain[NonceSize:]
	if !bytes.Equal(nonce, signature) {
		return "", ErrSignatureMismatch
	}
	return ActualTag(userNameHash, string(tagBytes)), nil
}
