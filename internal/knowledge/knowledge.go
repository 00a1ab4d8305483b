// Package knowledge defines the long-term knowledge interface consumed
// by flows that enrich context before generation. The production
// backing store (vector/graph) lives outside the core; a bounded
// in-memory implementation serves standalone deployments and tests.
package knowledge

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Snippet is a ranked recall result.
type Snippet struct {
	Text  string    `json:"text"`
	Tags  []string  `json:"tags,omitempty"`
	Score float64   `json:"score"`
	Added time.Time `json:"added"`
}

// Base is the knowledge interface the core consumes.
type Base interface {
	Recall(query string, limit int) []Snippet
	Memorize(fact string, tags []string)
}

// MemoryBase is a simple in-memory knowledge base ranked by term
// overlap.
type MemoryBase struct {
	mu       sync.RWMutex
	snippets []Snippet
	maxSize  int
}

// NewMemoryBase creates a memory-backed knowledge base holding at most
// maxSize facts (oldest evicted first).
func NewMemoryBase(maxSize int) *MemoryBase {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryBase{maxSize: maxSize}
}

// Memorize stores a fact.
func (b *MemoryBase) Memorize(fact string, tags []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snippets = append(b.snippets, Snippet{Text: fact, Tags: tags, Added: time.Now()})
	if len(b.snippets) > b.maxSize {
		b.snippets = b.snippets[len(b.snippets)-b.maxSize:]
	}
}

// Recall returns up to limit snippets ranked by shared terms with the
// query. Zero-overlap snippets are omitted.
func (b *MemoryBase) Recall(query string, limit int) []Snippet {
	if limit <= 0 {
		limit = 5
	}

	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		terms[w] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var ranked []Snippet
	for _, s := range b.snippets {
		matches := 0
		for _, w := range strings.Fields(strings.ToLower(s.Text)) {
			if terms[w] {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		scored := s
		scored.Score = float64(matches)
		ranked = append(ranked, scored)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
