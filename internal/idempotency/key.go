package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key derives a cache key from a tool name and its effective arguments.
// Map keys are serialized in sorted order, so argument order does not matter.
func Key(toolName string, args map[string]any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return toolName + ":" + hex.EncodeToString(sum[:]), nil
}
