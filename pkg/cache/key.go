package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key builds a stable cache key: prefix followed by a SHA256 digest of parts.
// Long inputs such as query text or ID lists hash to a fixed-length key.
func Key(prefix string, parts ...any) string {
	strParts := make([]string, len(parts))
	for i, part := range parts {
		strParts[i] = fmt.Sprint(part)
	}
	hash := sha256.Sum256([]byte(strings.Join(strParts, "\x1f")))
	return prefix + ":" + hex.EncodeToString(hash[:])
}
