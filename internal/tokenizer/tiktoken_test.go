package tokenizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-ml/quill/internal/eval"
	"github.com/quill-ml/quill/internal/tokenizer"
)

// The adapter must stay pluggable into the evaluation harness.
var _ eval.Tokenizer = (*tokenizer.TikToken)(nil)

func TestNewInvalidEncoding(t *testing.T) {
	_, err := tokenizer.New("invalid_encoding_xyz")
	assert.Error(t, err)
}

func TestNewForModel(t *testing.T) {
	tok, err := tokenizer.NewForModel("gpt-4")
	if err != nil {
		t.Skipf("encoding data unavailable: %v", err)
	}

	ids, err := tok.Encode("hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, ids)
	assert.Equal(t, "gpt-4", tok.Name())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok, err := tokenizer.New("cl100k_base")
	if err != nil {
		t.Skipf("encoding data unavailable: %v", err)
	}

	text := "### Response: The answer is 42"
	ids, err := tok.Encode(text)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, text, decoded)
	assert.Equal(t, 100257, tok.EosToken())
	assert.Equal(t, "cl100k_base", tok.Name())
}
