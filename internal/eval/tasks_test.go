package eval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTask(t *testing.T) {
	math, err := LookupTask("math")
	require.NoError(t, err)
	assert.Equal(t, "### Response:", math.Trigger)
	assert.Equal(t, []string{"gsm8k", "SVAMP", "mawps", "AQuA"}, math.EvalDatasets)
	assert.Equal(t, 512, math.Greedy.MaxNewTokens)
	assert.False(t, math.Greedy.DoSample)
	assert.Equal(t, float32(0.3), math.Sampled.Temperature)
	assert.Equal(t, 4, math.Sampled.NumBeams)

	cs, err := LookupTask("commonsense")
	require.NoError(t, err)
	assert.Equal(t, "the correct answer is ", cs.Trigger)
	assert.Equal(t, "%s\n", cs.PromptTemplate)
	assert.Equal(t, 32, cs.Greedy.MaxNewTokens)

	_, err = LookupTask("trivia")
	require.Error(t, err)
}

func TestTaskArgsSelection(t *testing.T) {
	math, err := LookupTask("math")
	require.NoError(t, err)
	assert.False(t, math.Args(true).DoSample)
	assert.True(t, math.Args(false).DoSample)
}

func TestLoadTaskOverrides(t *testing.T) {
	orig := taskTable["math"]
	defer func() { taskTable["math"] = orig }()

	doc := `
math:
  trigger: "### Answer:"
  eval_datasets: [gsm8k]
  greedy:
    max_new_tokens: 64
`
	require.NoError(t, LoadTaskOverrides(strings.NewReader(doc)))

	math, err := LookupTask("math")
	require.NoError(t, err)
	assert.Equal(t, "### Answer:", math.Trigger)
	assert.Equal(t, []string{"gsm8k"}, math.EvalDatasets)
	assert.Equal(t, 64, math.Greedy.MaxNewTokens)
	// Untouched fields keep their defaults.
	assert.Equal(t, orig.Sampled, math.Sampled)
	assert.Equal(t, orig.PromptTemplate, math.PromptTemplate)
}

func TestLoadTaskOverridesUnknownTask(t *testing.T) {
	doc := "trivia:\n  trigger: x\n"
	require.Error(t, LoadTaskOverrides(strings.NewReader(doc)))
}
