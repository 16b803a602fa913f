package download

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

const tokenBytes = 32

// Link is one redeemable download handed to the purchaser.
type Link struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// NewToken returns a 64-character hex token from a cryptographically strong
// random source.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating download token")
	}
	return hex.EncodeToString(buf), nil
}
