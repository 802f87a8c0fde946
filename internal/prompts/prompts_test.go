package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/dag"
)

func TestEveryStageHasPrompt(t *testing.T) {
	for _, stage := range dag.V1().Stages() {
		prompt, err := ForStage(stage.ID)
		require.NoError(t, err, "stage %s is missing a prompt", stage.ID)
		assert.NotEmpty(t, prompt)
		assert.Contains(t, prompt, "JSON", "stage %s prompt must demand JSON output", stage.ID)
	}
}

func TestForStageUnknown(t *testing.T) {
	_, err := ForStage("notAStage")
	require.Error(t, err)
}

func TestRepairAppendsHints(t *testing.T) {
	base, err := ForStage(dag.StageKeywords)
	require.NoError(t, err)

	repaired := Repair(base, "keywords: array must have exactly 7 items")
	assert.Contains(t, repaired, base)
	assert.Contains(t, repaired, "did not satisfy the required schema")
	assert.Contains(t, repaired, "exactly 7 items")
}
