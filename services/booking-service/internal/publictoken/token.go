// Package publictoken mints the bearer credentials handed to anonymous clients.
// Only a keyed digest of a token is ever persisted.
package publictoken

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const tokenBytes = 32

var ErrKeyTooLong = errors.New("publictoken: key longer than 64 bytes")

type Issuer struct {
	key []byte
}

// NewIssuer keys the digest with key; an empty key yields a plain BLAKE2b-256 digest.
func NewIssuer(key string) (*Issuer, error) {
	if len(key) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &Issuer{key: []byte(key)}, nil
}

// New returns a fresh url-safe token and the digest to store for it.
func (i *Issuer) New() (string, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("publictoken: read random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, i.Hash(token), nil
}

func (i *Issuer) Hash(token string) string {
	// key length is checked in NewIssuer, so New256 cannot fail.
	h, _ := blake2b.New256(i.key)
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
