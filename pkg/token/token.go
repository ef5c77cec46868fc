// Package token implements the sealed credential codec. A sealed token is
// AES-256-GCM ciphertext of a small JSON payload, base64url-encoded so it can
// travel inside a URL path segment or query parameter. The key is derived
// once from the configured secret; there is no other state.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidToken is returned for any token that cannot be decoded,
// authenticated, or whose payload is not of the expected kind. Callers must
// not be able to distinguish why a token failed.
var ErrInvalidToken = errors.New("invalid token")

const nonceSize = 12

// Payload kinds.
const (
	KindPending    = "pending"
	KindSession    = "session"
	KindProxyGrant = "proxy-grant"
)

// PendingWindow bounds how long a pending login may be polled.
const PendingWindow = 10 * time.Minute

// Pending is login-in-progress state minted when a device-code flow starts.
type Pending struct {
	Kind           string `json:"kind"`
	CreatedAt      int64  `json:"createdAt"`
	DeviceIDRaw    string `json:"deviceIdRaw"`
	DeviceIDHashed string `json:"deviceIdHashed"`
	ActivationCode string `json:"activationCode"`
	DeviceToken    string `json:"deviceToken"`
}

// Session is the long-lived provider session carried in the addon key.
type Session struct {
	Kind      string   `json:"kind"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt int64    `json:"expiresAt"`
	Cookies   []string `json:"cookies"`
	ProfileID int64    `json:"profileId,omitempty"`
}

// ProxyGrant is the short-lived credential scoped to one playback attempt.
type ProxyGrant struct {
	Kind      string `json:"kind"`
	LsSession string `json:"ls_session"`
	Exp       int64  `json:"exp"`
}

// Sealer seals and unseals credential payloads.
type Sealer struct {
	key []byte
}

// NewSealer derives the 256-bit sealing key from the configured secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("sealing secret must not be empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}, nil
}

// Seal encrypts any JSON-serializable payload into an opaque token.
func (s *Sealer) Seal(payload any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encoding payload")
	}

	aead, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generating nonce")
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// unseal decrypts a token and returns the raw payload bytes. Every failure
// mode collapses into ErrInvalidToken.
func (s *Sealer) unseal(tok string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) < nonceSize+1 {
		return nil, ErrInvalidToken
	}

	aead, err := s.aead()
	if err != nil {
		return nil, ErrInvalidToken
	}

	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return plaintext, nil
}

// UnsealPending decodes a pending-login token and enforces its window.
func (s *Sealer) UnsealPending(tok string, now time.Time) (*Pending, error) {
	raw, err := s.unseal(tok)
	if err != nil {
		return nil, err
	}
	var p Pending
	if json.Unmarshal(raw, &p) != nil || p.Kind != KindPending {
		return nil, ErrInvalidToken
	}
	if now.UnixMilli()-p.CreatedAt > PendingWindow.Milliseconds() {
		return nil, ErrInvalidToken
	}
	return &p, nil
}

// UnsealSession decodes a session token and validates its invariants:
// non-empty cookie set and an expiry in the future.
func (s *Sealer) UnsealSession(tok string, now time.Time) (*Session, error) {
	raw, err := s.unseal(tok)
	if err != nil {
		return nil, err
	}
	var sess Session
	if json.Unmarshal(raw, &sess) != nil || sess.Kind != KindSession {
		return nil, ErrInvalidToken
	}
	if len(sess.Cookies) == 0 || sess.ExpiresAt <= 0 {
		return nil, ErrInvalidToken
	}
	if now.UnixMilli() > sess.ExpiresAt {
		return nil, ErrInvalidToken
	}
	return &sess, nil
}

// UnsealGrant decodes a proxy grant and rejects expired ones even when the
// ciphertext authenticates.
func (s *Sealer) UnsealGrant(tok string, now time.Time) (*ProxyGrant, error) {
	raw, err := s.unseal(tok)
	if err != nil {
		return nil, err
	}
	var g ProxyGrant
	if json.Unmarshal(raw, &g) != nil || g.Kind != KindProxyGrant || g.LsSession == "" {
		return nil, ErrInvalidToken
	}
	if now.UnixMilli() > g.Exp {
		return nil, ErrInvalidToken
	}
	return &g, nil
}

// NewGrant mints a proxy grant for a single playback attempt.
func NewGrant(lsSession string, ttl time.Duration, now time.Time) ProxyGrant {
	return ProxyGrant{
		Kind:      KindProxyGrant,
		LsSession: lsSession,
		Exp:       now.Add(ttl).UnixMilli(),
	}
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCM")
	}
	return aead, nil
}
