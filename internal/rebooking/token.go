package rebooking

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy per response token
const tokenBytes = 32

// NewResponseToken returns an unguessable URL-safe token
func NewResponseToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate response token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
