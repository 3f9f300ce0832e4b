package transcript

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Str("component", "transcript").Msg("tokenizer unavailable, falling back to rune estimate")
			return
		}
		codec = c
	})
	return codec
}

// EstimateTokens approximates the prompt size of msgs with the cl100k codec.
// It is used for reporting only.
func EstimateTokens(msgs []Message) int {
	c := getCodec()
	total := 0
	for _, m := range msgs {
		// role marker + separators, as chat formats add a few tokens per message
		total += 4
		if c == nil {
			total += len([]rune(m.Content)) / 4
			continue
		}
		ids, _, err := c.Encode(m.Content)
		if err != nil {
			total += len([]rune(m.Content)) / 4
			continue
		}
		total += len(ids)
	}
	return total
}
