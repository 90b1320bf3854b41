package room

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	SchemeWords = "words"
	SchemeShort = "short"

	codeSeparator = "-"
	shortLength   = 6
	// Unambiguous characters only: no 0/o, 1/i.
	shortAlphabet = "abcdefghjklmnpqrstuvwxyz23456789"
)

// CodeGenerator produces room code candidates. Uniqueness is the registry's
// job; generators only need to make collisions rare.
type CodeGenerator interface {
	Next() string
}

// NormalizeCode is applied to every code before it touches the registry.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// NewCodeGenerator returns the generator for scheme.
func NewCodeGenerator(scheme string) (CodeGenerator, error) {
	switch scheme {
	case "", SchemeWords:
		return NewWordCodes(), nil
	case SchemeShort:
		return NewShortCodes()
	default:
		return nil, fmt.Errorf("unknown room code scheme %q", scheme)
	}
}

var codeWords = []string{
	"amber", "apple", "arrow", "aspen", "badger", "basil", "birch", "bison",
	"blaze", "bloom", "brook", "cable", "cedar", "cider", "clover", "cobalt",
	"comet", "coral", "crane", "delta", "dune", "ember", "falcon", "fern",
	"fjord", "flint", "frost", "gecko", "glade", "granite", "harbor", "hazel",
	"heron", "indigo", "iris", "jade", "juniper", "kestrel", "lagoon", "lemon",
	"lilac", "lotus", "maple", "meadow", "mango", "nectar", "nova", "oasis",
	"olive", "onyx", "otter", "pebble", "pepper", "pine", "quartz", "raven",
	"river", "saffron", "sage", "tango", "thistle", "tulip", "willow", "zephyr",
}

// WordCodes draws three words joined by a dash, e.g. "amber-otter-river".
type WordCodes struct {
	words []string

	mu  sync.Mutex
	rng *rand.Rand
}

func NewWordCodes() *WordCodes {
	return NewWordCodesWithSource(rand.NewSource(time.Now().UnixNano()), codeWords)
}

func NewWordCodesWithSource(src rand.Source, words []string) *WordCodes {
	return &WordCodes{words: words, rng: rand.New(src)}
}

func (w *WordCodes) Next() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	parts := make([]string, 3)
	for i := range parts {
		parts[i] = w.words[w.rng.Intn(len(w.words))]
	}
	return strings.Join(parts, codeSeparator)
}

// ShortCodes mirrors the six-character codes of the first release, lowercased
// so they survive normalization.
type ShortCodes struct {
	gen func() string
}

func NewShortCodes() (*ShortCodes, error) {
	gen, err := nanoid.CustomASCII(shortAlphabet, shortLength)
	if err != nil {
		return nil, fmt.Errorf("short code generator: %w", err)
	}
	return &ShortCodes{gen: gen}, nil
}

func (s *ShortCodes) Next() string { return s.gen() }
