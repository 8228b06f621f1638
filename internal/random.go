package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// OneTimeAlphabet is the character set of reset and verification tokens.
const OneTimeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!_-"

// OneTimeTokenLength is the length of reset and verification tokens.
const OneTimeTokenLength = 64

// NewOneTimeToken returns n characters drawn uniformly from
// OneTimeAlphabet using crypto/rand.
func NewOneTimeToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid token length")
	}

	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(OneTimeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(OneTimeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
