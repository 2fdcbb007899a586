package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type digest struct {
	Headline string   `json:"headline"`
	Topics   []string `json:"topics"`
}

func TestParseOrDefaultPlainJSON(t *testing.T) {
	res := ParseOrDefault(`{"headline":"Essay review","topics":["essays"]}`, digest{Headline: "fallback"})

	assert.False(t, res.Fallback)
	assert.Equal(t, "Essay review", res.Value.Headline)
	assert.Equal(t, []string{"essays"}, res.Value.Topics)
}

func TestParseOrDefaultFencedJSON(t *testing.T) {
	raw := "Here is the summary:\n```json\n{\"headline\":\"SAT planning\"}\n```\nLet me know if you need more."
	res := ParseOrDefault(raw, digest{})

	assert.False(t, res.Fallback)
	assert.Equal(t, "SAT planning", res.Value.Headline)
}

func TestParseOrDefaultNoJSON(t *testing.T) {
	res := ParseOrDefault("Sorry, I can't produce that.", digest{Headline: "fallback"})

	assert.True(t, res.Fallback)
	assert.Equal(t, "fallback", res.Value.Headline)
	assert.NotEmpty(t, res.Reason)
}

func TestParseOrDefaultMalformedJSON(t *testing.T) {
	res := ParseOrDefault(`{"headline": "unterminated}`, digest{Headline: "fallback"})

	assert.True(t, res.Fallback)
	assert.Equal(t, "fallback", res.Value.Headline)
}
