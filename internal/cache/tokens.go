package cache

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenCounter estimates the token count of a text.
type TokenCounter func(text string) int

// defaultTokenCounter counts with the cl100k_base encoding, falling back
// to the chars/4 heuristic when the encoding cannot be loaded.
func defaultTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("cache: tokenizer unavailable, using chars/4 estimate")
		return approxTokenCount
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

func approxTokenCount(text string) int {
	return (len(text) + 3) / 4
}
