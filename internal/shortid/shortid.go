// Package shortid generates the public memory handles exchanged between
// agents: a fixed RCL- prefix followed by eight characters drawn uniformly
// from [A-Z0-9] using a cryptographic random source.
package shortid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	prefix   = "RCL-"
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLen  = 8
)

// Pattern matches every handle New can produce.
var Pattern = regexp.MustCompile(`^RCL-[A-Z0-9]{8}$`)

var alphabetLen = big.NewInt(int64(len(alphabet)))

// New returns a fresh short handle. Collisions are negligible at expected
// corpus sizes; callers that persist handles must still treat a unique
// violation as retryable and ask for a new one.
func New() (string, error) {
	code := make([]byte, codeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return prefix + string(code), nil
}
