package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type cursor struct {
	Offset int `json:"o"`
}

// EncodeOffset serialises a list offset into a URL-safe page token. Zero
// yields the empty token.
func EncodeOffset(offset int) string {
	if offset <= 0 {
		return ""
	}
	data, _ := json.Marshal(cursor{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeOffset parses a token produced by EncodeOffset. The empty token is offset zero.
func DecodeOffset(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var c cursor
	if err := json.Unmarshal(decoded, &c); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if c.Offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidPageToken)
	}
	return c.Offset, nil
}
