// Package idgen allocates unguessable mediation tokens.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// TokenLength is the number of base36 characters in a token. 16 random
// bytes (128 bits) never need more than 25 base36 digits.
const TokenLength = 25

const tokenBytes = 16

// encodeToken renders b as a zero-padded base36 string (0-9, a-z).
// len(b) must not exceed tokenBytes.
func encodeToken(b []byte) string {
	s := new(big.Int).SetBytes(b).Text(36)
	return strings.Repeat("0", TokenLength-len(s)) + s
}

// Generator produces tokens from a random source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator reading from r, or crypto/rand when r is nil.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// NewToken returns a fresh token.
func (g *Generator) NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return encodeToken(buf), nil
}
