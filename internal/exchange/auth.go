package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"kraken-adaptive/internal/config"
)

// Signer produces the API-Sign header for private endpoints.
//
// The signature is HMAC-SHA512 over the URI path concatenated with
// SHA256(nonce + urlencoded form body), keyed with the base64-decoded
// API secret, and base64-encoded. The nonce inside the hashed body must
// be the same one sent in the form, so callers sign the exact encoded
// body they transmit.
type Signer struct {
	key    string
	secret []byte

	mu        sync.Mutex
	lastNonce int64
}

// NewSigner decodes the configured API secret.
func NewSigner(cfg config.ExchangeConfig) (*Signer, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	return &Signer{key: cfg.APIKey, secret: secret}, nil
}

// Key returns the API key for the API-Key header.
func (s *Signer) Key() string { return s.key }

// Nonce returns a strictly increasing millisecond-epoch nonce. The
// exchange rejects any nonce at or below the highest one it has seen.
func (s *Signer) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// Sign computes the API-Sign value for one request. body is the exact
// urlencoded form body that will be sent; nonce is the value of its
// nonce field.
func (s *Signer) Sign(path, nonce, body string) string {
	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
