package aicache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// embedKey returns the lru key, the content hash and the normalized model
// name for one embedding request.
func embedKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	contentHash := hashText(text)
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}

// tableKey ignores whitespace differences so that the same table extracted
// twice maps to one entry.
func tableKey(table string) string {
	return "table:" + hashText(strings.Join(strings.Fields(table), " "))
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
