package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "héll...", Truncate("héllo wörld", 4), "truncation is rune safe")
	assert.Equal(t, "", Truncate("", 5))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""), "floor of one token")
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("eight ch"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
