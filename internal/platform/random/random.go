package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Source is the single capability through which components obtain
// randomness. Production code uses CryptoSource; tests substitute a
// deterministic implementation.
type Source interface {
	// Bytes fills buf with random bytes.
	Bytes(buf []byte) error
	// Digits returns n decimal digits, zero-padded on the left.
	Digits(n int) (string, error)
}

type CryptoSource struct{}

func (CryptoSource) Bytes(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	return nil
}

func (CryptoSource) Digits(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("read random digits: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
