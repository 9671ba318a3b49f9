package auth_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mickamy/tagvault/auth"
)

func TestKeyExchangeAgreement(t *testing.T) {
	t.Parallel()

	alicePriv, err := auth.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("alice GeneratePrivateKey: %v", err)
	}
	bobPriv, err := auth.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("bob GeneratePrivateKey: %v", err)
	}
	alicePub := auth.PublicKeyBytes(alicePriv)
	bobPub := auth.PublicKeyBytes(bobPriv)

	aliceKey, err := auth.DoKeyExchange(alicePriv, alicePub, bobPub)
	if err != nil {
		t.Fatalf("alice DoKeyExchange: %v", err)
	}
	bobKey, err := auth.DoKeyExchange(bobPriv, bobPub, alicePub)
	if err != nil {
		t.Fatalf("bob DoKeyExchange: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatalf("session keys disagree: %x != %x", aliceKey, bobKey)
	}
	if len(aliceKey) != auth.SessionKeySize {
		t.Fatalf("got key length %d, want %d", len(aliceKey), auth.SessionKeySize)
	}
}

func TestDeriveSessionKeyOrderIndependent(t *testing.T) {
	t.Parallel()
	secret := []byte("shared-secret")
	pub1 := []byte{0x01, 0x02, 0x03}
	pub2 := []byte{0x04, 0x05, 0x06}

	k1 := auth.DeriveSessionKey(secret, pub1, pub2)
	k2 := auth.DeriveSessionKey(secret, pub2, pub1)
	if !bytes.Equal(k1, k2) {
		t.Fatalf("derivation is not symmetric in argument order: %x != %x", k1, k2)
	}
}

func TestAESCTR128RoundTrip(t *testing.T) {
	t.Parallel()
	key := bytes.Repeat([]byte{0x42}, auth.SessionKeySize)
	nonce, err := auth.GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, err := auth.AESCTR128(plaintext, key, nonce)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	roundTripped, err := auth.AESCTR128(ciphertext, key, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(roundTripped, plaintext) {
		t.Fatalf("got %q, want %q", roundTripped, plaintext)
	}
}

func TestUserNameHashStable(t *testing.T) {
	t.Parallel()
	h1 := auth.UserNameHash("alice")
	h2 := auth.UserNameHash("alice")
	h3 := auth.UserNameHash("bob")
	if h1 != h2 {
		t.Fatalf("hash not stable: %q != %q", h1, h2)
	}
	if h1 == h3 {
		t.Fatal("different user names produced the same hash")
	}
}

func TestPasswordStoreTagCannotCollideWithUserTag(t *testing.T) {
	t.Parallel()
	hash := auth.UserNameHash("alice")
	passwordTag := auth.PasswordStoreTag(hash)
	userTag := auth.ActualTag(hash, "profile")
	if passwordTag == userTag {
		t.Fatal("password store tag collided with a user tag")
	}
	if passwordTag[:2] != "#*" {
		t.Fatalf("password store tag missing #* prefix: %q", passwordTag)
	}
}

func TestTagEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	sessionKey := bytes.Repeat([]byte{0x11}, auth.SessionKeySize)
	hash := auth.UserNameHash("alice")

	nonce, envelope, err := auth.EncryptTagEnvelope("profile", sessionKey)
	if err != nil {
		t.Fatalf("EncryptTagEnvelope: %v", err)
	}

	actualTag, err := auth.DecryptTagEnvelope(nonce, envelope, hash, sessionKey)
	if err != nil {
		t.Fatalf("DecryptTagEnvelope: %v", err)
	}
	if want := auth.ActualTag(hash, "profile"); actualTag != want {
		t.Fatalf("got %q, want %q", actualTag, want)
	}
}

func TestTagEnvelopeSignatureMismatch(t *testing.T) {
	t.Parallel()
	sessionKey := bytes.Repeat([]byte{0x22}, auth.SessionKeySize)
	hash := auth.UserNameHash("alice")

	_, envelope, err := auth.EncryptTagEnvelope("profile", sessionKey)
	if err != nil {
		t.Fatalf("EncryptTagEnvelope: %v", err)
	}

	wrongNonce, err := auth.GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}

	_, err = auth.DecryptTagEnvelope(wrongNonce, envelope, hash, sessionKey)
	if !errors.Is(err, auth.ErrSignatureMismatch) {
		t.Fatalf("got %v, want ErrSignatureMismatch", err)
	}
}
