// Package randid generates short random identifiers for slugs and session ids.
package randid

import (
	"crypto/rand"
	"math/big"
)

const (
	// URLAlphabet is the URL-safe alphabet used for session suffixes.
	URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	// LowerAlphabet is used where ids end up in case-insensitive places such as slugs.
	LowerAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789_-"
)

// String returns n characters drawn uniformly from alphabet.
func String(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
