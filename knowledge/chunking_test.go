package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplitsOnSentenceBoundaries(t *testing.T) {
	sentence := strings.Repeat("a", 249) + "."
	text := strings.Repeat(sentence, 12) // 3000 runes

	pieces := newChunker(1000, 0).split(text)
	require.Len(t, pieces, 3)
	for _, piece := range pieces {
		assert.LessOrEqual(t, utf8.RuneCountInString(piece.Text), 1000)
		assert.True(t, strings.HasSuffix(piece.Text, "."))
		assert.Positive(t, piece.TokenCount)
	}
	assert.Equal(t, text, pieces[0].Text+pieces[1].Text+pieces[2].Text)
}

func TestChunkerHardCutWithoutBoundary(t *testing.T) {
	text := strings.Repeat("x", 2500)

	pieces := newChunker(1000, 0).split(text)
	require.Len(t, pieces, 3)
	assert.Len(t, pieces[0].Text, 1000)
	assert.Len(t, pieces[1].Text, 1000)
	assert.Len(t, pieces[2].Text, 500)
}

func TestChunkerOverlap(t *testing.T) {
	text := strings.Repeat("y", 1800)

	pieces := newChunker(1000, 200).split(text)
	require.Len(t, pieces, 2)
	assert.Len(t, pieces[0].Text, 1000)
	assert.Len(t, pieces[1].Text, 1000, "second window starts 200 runes early")
}

func TestChunkerEmptyAndMultibyte(t *testing.T) {
	assert.Empty(t, newChunker(1000, 0).split("   \r\n  "))

	text := strings.Repeat("知识库", 500) // 1500 runes
	pieces := newChunker(1000, 0).split(text)
	require.Len(t, pieces, 2)
	assert.Equal(t, 1000, utf8.RuneCountInString(pieces[0].Text))
	assert.True(t, utf8.ValidString(pieces[1].Text))
}

func TestNewChunkerRejectsInvalidOverlap(t *testing.T) {
	c := newChunker(100, 100)
	assert.Equal(t, 0, c.overlap)
	assert.Equal(t, 50, c.minChars)
}
