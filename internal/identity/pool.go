// Package identity hands out per-room display names from a fixed set of
// funny names.
package identity

import (
	"math/rand"
	"slices"
	"sync"
	"time"
)

// Fallback is shared by every participant that joins once the pool is
// exhausted for their room. It is never unique.
const Fallback = "Anonymous"

var funnyNames = []string{
	"Silly Goose", "Wacky Wombat", "Crazy Cat", "Bubbly Bear",
	"Jolly Jellyfish", "Sassy Sloth", "Dizzy Dolphin", "Cheeky Monkey",
	"Nerdy Narwhal", "Funky Flamingo", "Quirky Quokka", "Zany Zebra",
	"Playful Penguin", "Dapper Duck", "Giggly Giraffe", "Mischievous Mongoose",
	"Bouncy Bunny", "Charming Chinchilla", "Radiant Raccoon", "Dizzy Dingo",
}

type Pool struct {
	names []string

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPool() *Pool {
	return NewPoolWithSource(rand.NewSource(time.Now().UnixNano()), funnyNames)
}

// NewPoolWithSource builds a pool over names using src for every draw.
// Duplicate names are collapsed.
func NewPoolWithSource(src rand.Source, names []string) *Pool {
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || n == Fallback || slices.Contains(uniq, n) {
			continue
		}
		uniq = append(uniq, n)
	}
	return &Pool{names: uniq, rng: rand.New(src)}
}

// Assign picks a name uniformly at random from the pool minus used.
// The caller records the result in used.
func (p *Pool) Assign(used map[string]struct{}) string {
	available := make([]string, 0, len(p.names))
	for _, n := range p.names {
		if _, taken := used[n]; !taken {
			available = append(available, n)
		}
	}
	if len(available) == 0 {
		return Fallback
	}

	p.mu.Lock()
	i := p.rng.Intn(len(available))
	p.mu.Unlock()

	return available[i]
}

// Release frees name for a future joiner. The fallback is never tracked.
func (p *Pool) Release(used map[string]struct{}, name string) {
	if IsFallback(name) {
		return
	}
	delete(used, name)
}

func (p *Pool) Size() int { return len(p.names) }

func (p *Pool) Names() []string { return slices.Clone(p.names) }

func IsFallback(name string) bool { return name == Fallback }
