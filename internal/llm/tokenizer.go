package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation for
// Grok-family models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate total token count for the given
// texts, defaulting to 0 when the tokenizer is unavailable. Used for console
// and log reporting only, never for budgeting.
func EstimateTokens(texts ...string) int {
	c, err := getCodec()
	if err != nil {
		return 0
	}
	total := 0
	for _, t := range texts {
		ids, _, err := c.Encode(t)
		if err != nil {
			continue
		}
		total += len(ids)
	}
	return total
}
