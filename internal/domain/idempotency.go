package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// IdempotencyKey derives a deterministic key for a proposed tool call.
// The key is the SHA-256 of a canonical JSON envelope of thread ID,
// tool name and arguments, so the same logical request always maps to
// the same key across process restarts. Never derive keys from
// uuid.New or map iteration order.
func IdempotencyKey(threadID, toolName string, toolArgs json.RawMessage) (string, error) {
	// Round-trip the args through any so encoding/json re-emits object
	// keys in sorted order, making the digest order-independent.
	var args any
	if len(toolArgs) > 0 {
		if err := json.Unmarshal(toolArgs, &args); err != nil {
			return "", fmt.Errorf("domain.IdempotencyKey: parse args: %w", err)
		}
	}

	canonical, err := json.Marshal(struct {
		ThreadID string `json:"thread_id"`
		ToolName string `json:"tool_name"`
		Args     any    `json:"args"`
	}{ThreadID: threadID, ToolName: toolName, Args: args})
	if err != nil {
		return "", fmt.Errorf("domain.IdempotencyKey: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ValidIdempotencyKey reports whether key is a 64-character hex digest.
func ValidIdempotencyKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	if _, err := hex.DecodeString(key); err != nil {
		return false
	}
	return true
}
