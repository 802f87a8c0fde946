// Package prompts provides the per-stage system prompts. Prompts are stored
// as text files and embedded at compile time.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed stage/*.txt
var promptFS embed.FS

var (
	cache   = make(map[string]string)
	cacheMu sync.RWMutex
)

// ForStage returns the system prompt for a stage.
func ForStage(stageID string) (string, error) {
	cacheMu.RLock()
	prompt, ok := cache[stageID]
	cacheMu.RUnlock()
	if ok {
		return prompt, nil
	}

	raw, err := promptFS.ReadFile("stage/" + stageID + ".txt")
	if err != nil {
		return "", fmt.Errorf("no prompt for stage %s: %w", stageID, err)
	}
	prompt = strings.TrimSpace(string(raw))

	cacheMu.Lock()
	cache[stageID] = prompt
	cacheMu.Unlock()
	return prompt, nil
}

// Repair appends a repair instruction to a system prompt after schema
// validation fails, quoting the validation failures back to the model.
func Repair(systemPrompt, hints string) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nYour previous response did not satisfy the required schema. Validation failures: ")
	sb.WriteString(hints)
	sb.WriteString("\nProduce a corrected JSON object that satisfies the schema exactly.")
	return sb.String()
}
