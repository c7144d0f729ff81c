package eval

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-ml/quill/internal/logger"
)

// runeTokenizer maps each rune to its codepoint, which round-trips exactly.
type runeTokenizer struct {
	failOn int // token ID that poisons Decode, 0 disables
}

func (rt *runeTokenizer) Encode(text string) ([]int, error) {
	toks := make([]int, 0, len(text))
	for _, r := range text {
		toks = append(toks, int(r))
	}
	return toks, nil
}

func (rt *runeTokenizer) Decode(ids []int) (string, error) {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		if rt.failOn != 0 && id == rt.failOn {
			return "", fmt.Errorf("unknown token %d", id)
		}
		runes[i] = rune(id)
	}
	return string(runes), nil
}

// scriptedModel replies with a fixed generation per example ID, encoded
// through the same rune mapping.
type scriptedModel struct {
	responses map[int]string
	lastArgs  GenerationArgs
}

func (m *scriptedModel) Generate(_ context.Context, batch Batch, args GenerationArgs) ([][]int, error) {
	m.lastArgs = args
	out := make([][]int, len(batch.IDs))
	for i, id := range batch.IDs {
		text := m.responses[id]
		toks := make([]int, 0, len(text))
		for _, r := range text {
			toks = append(toks, int(r))
		}
		out[i] = toks
	}
	return out, nil
}

func TestRunnerMathNumericMatch(t *testing.T) {
	model := &scriptedModel{responses: map[int]string{
		0: "prompt echo ### Response: The answer is 42",
		1: "prompt echo ### Response: I believe it is 17",
		2: "rambled past the token budget with no marker",
	}}
	runner := &Runner{
		Model:     model,
		Tokenizer: &runeTokenizer{},
		Log:       logger.Discard(),
		Greedy:    true,
	}
	examples := []Example{
		{ID: 0, Instruction: "add", Answer: "42"},
		{ID: 1, Instruction: "add again", Answer: "18"},
		{ID: 2, Instruction: "never answered", Answer: "5"},
	}

	report, err := runner.Evaluate(context.Background(), "math", "gsm8k", examples)
	require.NoError(t, err)

	assert.InDelta(t, 1.0/3.0, report.Metrics["eval/gsm8k"], 1e-9)
	require.Len(t, report.Records, 3)
	assert.True(t, report.Records[0].Correct)
	assert.False(t, report.Records[1].Correct)
	assert.False(t, report.Records[2].Correct)
	assert.Equal(t, "", report.Records[2].RawGeneration)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 512, model.lastArgs.MaxNewTokens)
	assert.False(t, model.lastArgs.DoSample)
}

func TestRunnerMathLetterFallback(t *testing.T) {
	// A non-numeric ground truth switches to multiple-choice matching.
	model := &scriptedModel{responses: map[int]string{
		0: "### Response: The correct choice is B.",
		1: "### Response: it has to be C",
	}}
	runner := &Runner{
		Model:     model,
		Tokenizer: &runeTokenizer{},
		Log:       logger.Discard(),
		Greedy:    true,
	}
	examples := []Example{
		{ID: 0, Instruction: "pick", Answer: "C"},
		{ID: 1, Instruction: "pick", Answer: "C"},
	}

	report, err := runner.Evaluate(context.Background(), "math", "AQuA", examples)
	require.NoError(t, err)
	assert.False(t, report.Records[0].Correct)
	assert.Equal(t, "B", report.Records[0].Generation)
	assert.True(t, report.Records[1].Correct)
}

func TestRunnerCommonsenseExactMatch(t *testing.T) {
	model := &scriptedModel{responses: map[int]string{
		0: "blah the correct answer is true",
		1: "blah the correct answer is false extra words",
	}}
	runner := &Runner{
		Model:     model,
		Tokenizer: &runeTokenizer{},
		Log:       logger.Discard(),
		Greedy:    true,
	}
	examples := []Example{
		{ID: 0, Instruction: "q1", Answer: "true"},
		{ID: 1, Instruction: "q2", Answer: "false"},
	}

	report, err := runner.Evaluate(context.Background(), "commonsense", "boolq", examples)
	require.NoError(t, err)
	assert.True(t, report.Records[0].Correct)
	// Exact trimmed match: trailing words make it wrong.
	assert.False(t, report.Records[1].Correct)
	assert.Equal(t, 0.5, report.Metrics["eval/boolq"])
	assert.Equal(t, 32, model.lastArgs.MaxNewTokens)
}

func TestRunnerDecodeFailureDegradesLocally(t *testing.T) {
	model := &scriptedModel{responses: map[int]string{
		0: "the correct answer is yes",
		1: "\x01poisoned",
	}}
	runner := &Runner{
		Model:     model,
		Tokenizer: &runeTokenizer{failOn: 1},
		Log:       logger.Discard(),
		Greedy:    true,
		BatchSize: 1,
	}
	examples := []Example{
		{ID: 0, Instruction: "q", Answer: "yes"},
		{ID: 1, Instruction: "q", Answer: "yes"},
	}

	report, err := runner.Evaluate(context.Background(), "commonsense", "piqa", examples)
	require.NoError(t, err)
	require.Len(t, report.Records, 2)
	assert.True(t, report.Records[0].Correct)
	assert.False(t, report.Records[1].Correct)
}

func TestRunnerContextCancellation(t *testing.T) {
	runner := &Runner{
		Model:     &scriptedModel{responses: map[int]string{}},
		Tokenizer: &runeTokenizer{},
		Log:       logger.Discard(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Evaluate(ctx, "commonsense", "boolq", []Example{{ID: 0}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerUnknownTask(t *testing.T) {
	runner := &Runner{Model: &scriptedModel{}, Tokenizer: &runeTokenizer{}, Log: logger.Discard()}
	_, err := runner.Evaluate(context.Background(), "trivia", "x", nil)
	require.Error(t, err)
}

func TestCollatorLeftPads(t *testing.T) {
	c := &Collator{Tokenizer: &runeTokenizer{}, PadID: 0}
	batch, err := c.Collate([]string{"abc", "a"}, []int{7, 9})
	require.NoError(t, err)

	assert.Equal(t, []int{7, 9}, batch.IDs)
	assert.Equal(t, []int{'a', 'b', 'c'}, batch.InputIDs[0])
	assert.Equal(t, []int{1, 1, 1}, batch.AttentionMask[0])
	assert.Equal(t, []int{0, 0, 'a'}, batch.InputIDs[1])
	assert.Equal(t, []int{0, 0, 1}, batch.AttentionMask[1])
}

func TestReportWriteJSON(t *testing.T) {
	report := &Report{
		RunID:   "run-1",
		Task:    "math",
		Dataset: "gsm8k",
		Metrics: map[string]float64{"eval/gsm8k": 0.5},
		Records: []Record{{Instruction: "q", RawGeneration: "r", Generation: "42", Answer: "42", Correct: true}},
	}
	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, 0.5, decoded.Metrics["eval/gsm8k"])
	require.Len(t, decoded.Records, 1)
	assert.True(t, decoded.Records[0].Correct)
}
