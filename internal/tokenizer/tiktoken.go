// Package tokenizer adapts BPE tokenizers to the evaluation harness.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	encodingCL100kBase = "cl100k_base"
	encodingP50kBase   = "p50k_base"
	encodingR50kBase   = "r50k_base"
)

// TikToken wraps the pkoukk/tiktoken-go library. It satisfies the
// harness's Tokenizer interface for encoding prompts and decoding
// generations.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// New creates a tokenizer for a named encoding, e.g. "cl100k_base".
func New(encodingName string) (*TikToken, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: loading encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: encoding, name: encodingName}, nil
}

// NewForModel creates a tokenizer from a model name, e.g. "gpt-4".
func NewForModel(modelName string) (*TikToken, error) {
	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: loading encoding for model %q: %w", modelName, err)
	}
	return &TikToken{encoding: encoding, name: modelName}, nil
}

// Encode converts text to token IDs.
func (t *TikToken) Encode(text string) ([]int, error) {
	return t.encoding.Encode(text, nil, nil), nil
}

// Decode converts token IDs back to text.
func (t *TikToken) Decode(tokens []int) (string, error) {
	return t.encoding.Decode(tokens), nil
}

// EosToken returns the <|endoftext|> token ID, or -1 when the encoding
// does not define one.
func (t *TikToken) EosToken() int {
	switch t.name {
	case encodingCL100kBase:
		return 100257
	case encodingP50kBase, encodingR50kBase:
		return 50256
	default:
		return -1
	}
}

// Name returns the encoding name.
func (t *TikToken) Name() string {
	return t.name
}
