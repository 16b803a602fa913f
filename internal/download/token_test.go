package download

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewToken(t *testing.T) {
	token, err := NewToken()
	assert.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), token)
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		assert.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}
