package utils

import (
	"encoding/base64"
	"strings"
)

// ToURLBase64 encodes bytes to URL-safe base64 without padding, the form web
// push uses for keys and secrets.
func ToURLBase64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeAnyBase64 accepts standard or URL-safe base64, padded or not.
func DecodeAnyBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
