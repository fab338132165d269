package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeAlphabet leaves out characters that are easy to misread: I, O, 0 and 1.
const (
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// NewCode returns a random room code of CodeLength characters from CodeAlphabet.
func NewCode() (string, error) {
	b := make([]byte, CodeLength)
	size := big.NewInt(int64(len(CodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("room: generate code: %w", err)
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}
