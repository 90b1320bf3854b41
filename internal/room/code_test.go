package room

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"amber-otter-river", "amber-otter-river"},
		{"  Amber-OTTER-river\t", "amber-otter-river"},
		{"ABC234", "abc234"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCode(tt.in), "NormalizeCode(%q)", tt.in)
	}
}

func TestWordCodes_ThreeWordsFromPool(t *testing.T) {
	w := NewWordCodesWithSource(rand.NewSource(3), codeWords)

	for i := 0; i < 100; i++ {
		code := w.Next()
		parts := strings.Split(code, codeSeparator)
		require.Len(t, parts, 3, code)
		for _, p := range parts {
			assert.Contains(t, codeWords, p)
		}
		assert.Equal(t, code, NormalizeCode(code))
	}
}

func TestWordCodes_PoolHasNoDuplicates(t *testing.T) {
	seen := map[string]bool{}
	for _, w := range codeWords {
		assert.False(t, seen[w], "duplicate word %q", w)
		assert.NotContains(t, w, codeSeparator)
		seen[w] = true
	}
}

func TestShortCodes(t *testing.T) {
	s, err := NewShortCodes()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		code := s.Next()
		require.Len(t, code, shortLength)
		assert.Equal(t, code, NormalizeCode(code))
		for _, c := range code {
			assert.Contains(t, shortAlphabet, string(c))
		}
	}
}

func TestNewCodeGenerator(t *testing.T) {
	g, err := NewCodeGenerator("")
	require.NoError(t, err)
	assert.IsType(t, &WordCodes{}, g)

	g, err = NewCodeGenerator(SchemeShort)
	require.NoError(t, err)
	assert.IsType(t, &ShortCodes{}, g)

	_, err = NewCodeGenerator("emoji")
	assert.Error(t, err)
}
