package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const codeDigits = 6

var codeRange = big.NewInt(1_000_000)

// GenerateCode draws a fixed-width numeric one-time code uniformly from
// [000000, 999999] using crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
