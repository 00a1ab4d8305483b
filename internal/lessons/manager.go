// Package lessons records {situation, decision, outcome} tuples and
// serves queries that bias future routing and short-circuit repeat
// answers.
package lessons

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/spindle/pkg/models"
)

const writeBuffer = 256

// Store persists lessons. Write failures are logged and dropped, never
// surfaced to the task flow.
type Store interface {
	SaveLesson(lesson *models.Lesson) error
	LoadLessons() ([]*models.Lesson, error)
}

// RecordMeta carries optional outcome metadata
type RecordMeta struct {
	CostUSD   float64
	LatencyMs int64
	Tags      []string
}

type writeReq struct {
	fingerprint string
	decision    string
	outcome     models.LessonOutcome
	meta        RecordMeta
}

// Manager is the lessons store. Reads are served from memory; writes
// funnel through a single writer goroutine so the main task flow never
// blocks on lesson persistence.
type Manager struct {
	mu         sync.RWMutex
	byKey      map[string]*models.Lesson // fingerprint+"\x00"+decision
	byPrint    map[string][]*models.Lesson
	store      Store
	maxEntries int

	writes chan writeReq
	stop   chan struct{}
	done   chan struct{}
}

// NewManager creates a lessons manager. store may be nil for
// memory-only operation; when set, existing lessons are loaded at
// startup and new ones persisted in the background.
func NewManager(store Store, maxEntries int) *Manager {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	m := &Manager{
		byKey:      make(map[string]*models.Lesson),
		byPrint:    make(map[string][]*models.Lesson),
		store:      store,
		maxEntries: maxEntries,
		writes:     make(chan writeReq, writeBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if store != nil {
		loaded, err := store.LoadLessons()
		if err != nil {
			log.Printf("[Lessons] Failed to load persisted lessons: %v", err)
		} else {
			for _, l := range loaded {
				m.insert(l)
			}
			if len(loaded) > 0 {
				log.Printf("[Lessons] Loaded %d persisted lessons", len(loaded))
			}
		}
	}

	go m.writer()
	return m
}

// Fingerprint produces a normalized hash of request content plus
// routing context, tolerant of whitespace and casing variance.
func Fingerprint(content string, routingContext ...string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	h := sha256.New()
	h.Write([]byte(normalized))
	for _, part := range routingContext {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(part))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record enqueues a lesson write. Fire-and-forget: if the write queue
// is full the lesson is logged and dropped rather than blocking the
// caller.
func (m *Manager) Record(fingerprint, decision string, outcome models.LessonOutcome, meta RecordMeta) {
	req := writeReq{fingerprint: fingerprint, decision: decision, outcome: outcome, meta: meta}
	select {
	case m.writes <- req:
	default:
		log.Printf("[Lessons] Write queue full, dropping lesson for %.12s/%s", fingerprint, decision)
	}
}

// Query returns the best matching lesson for a fingerprint, or nil.
// Pinned lessons win, then confirmation count, then recency.
func (m *Manager) Query(fingerprint string) *models.Lesson {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.byPrint[fingerprint]
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, l := range candidates[1:] {
		if betterLesson(l, best) {
			best = l
		}
	}
	c := *best
	return &c
}

func betterLesson(a, b *models.Lesson) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	if a.Confirmations != b.Confirmations {
		return a.Confirmations > b.Confirmations
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// Pin marks a lesson as exempt from TTL eviction.
func (m *Manager) Pin(fingerprint, decision string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byKey[key(fingerprint, decision)]
	if !ok {
		return false
	}
	l.Pinned = true
	l.UpdatedAt = time.Now()
	m.persist(l)
	return true
}

// Prune evicts unpinned lessons older than ttl. Returns the count
// removed.
func (m *Manager) Prune(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for k, l := range m.byKey {
		if l.Pinned || l.UpdatedAt.After(cutoff) {
			continue
		}
		delete(m.byKey, k)
		m.removeFromPrint(l)
		removed++
	}
	return removed
}

// Deduplicate collapses lessons sharing fingerprint+decision, keeping
// the most recently updated entry. Returns the count removed. Normal
// operation keys writes by fingerprint+decision already; this covers
// duplicates introduced by external stores.
func (m *Manager) Deduplicate() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for print, list := range m.byPrint {
		byDecision := make(map[string]*models.Lesson)
		for _, l := range list {
			existing, ok := byDecision[l.Decision]
			if !ok || l.UpdatedAt.After(existing.UpdatedAt) {
				byDecision[l.Decision] = l
			}
		}
		if len(byDecision) == len(list) {
			continue
		}
		removed += len(list) - len(byDecision)
		deduped := make([]*models.Lesson, 0, len(byDecision))
		for _, l := range byDecision {
			deduped = append(deduped, l)
			m.byKey[key(print, l.Decision)] = l
		}
		sort.Slice(deduped, func(i, j int) bool { return deduped[i].UpdatedAt.Before(deduped[j].UpdatedAt) })
		m.byPrint[print] = deduped
	}
	return removed
}

// Count returns the number of stored lessons.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// StartPruneLoop prunes on the given interval until Close.
func (m *Manager) StartPruneLoop(ttl, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Prune(ttl); n > 0 {
					log.Printf("[Lessons] Pruned %d expired lessons", n)
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Close drains pending writes and stops the writer goroutine.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}

func (m *Manager) writer() {
	defer close(m.done)
	for {
		select {
		case req := <-m.writes:
			m.apply(req)
		case <-m.stop:
			// Drain whatever is already queued.
			for {
				select {
				case req := <-m.writes:
					m.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) apply(req writeReq) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	k := key(req.fingerprint, req.decision)
	if existing, ok := m.byKey[k]; ok {
		// Dedup by fingerprint+decision: newest outcome wins, repeated
		// successes count as confirmations.
		if req.outcome == models.LessonOutcomeSuccess && existing.Outcome == models.LessonOutcomeSuccess {
			existing.Confirmations++
		} else {
			existing.Confirmations = confirmationsFor(req.outcome)
		}
		existing.Outcome = req.outcome
		existing.CostUSD = req.meta.CostUSD
		existing.LatencyMs = req.meta.LatencyMs
		if len(req.meta.Tags) > 0 {
			existing.Tags = req.meta.Tags
		}
		existing.UpdatedAt = now
		m.persist(existing)
		return
	}

	if len(m.byKey) >= m.maxEntries {
		m.evictOldestLocked()
	}

	l := &models.Lesson{
		ID:            uuid.New().String(),
		Fingerprint:   req.fingerprint,
		Decision:      req.decision,
		Outcome:       req.outcome,
		CostUSD:       req.meta.CostUSD,
		LatencyMs:     req.meta.LatencyMs,
		Tags:          req.meta.Tags,
		Confirmations: confirmationsFor(req.outcome),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.byKey[k] = l
	m.byPrint[req.fingerprint] = append(m.byPrint[req.fingerprint], l)
	m.persist(l)
}

func confirmationsFor(outcome models.LessonOutcome) int {
	if outcome == models.LessonOutcomeSuccess {
		return 1
	}
	return 0
}

func (m *Manager) insert(l *models.Lesson) {
	m.byKey[key(l.Fingerprint, l.Decision)] = l
	m.byPrint[l.Fingerprint] = append(m.byPrint[l.Fingerprint], l)
}

func (m *Manager) persist(l *models.Lesson) {
	if m.store == nil {
		return
	}
	snapshot := *l
	go func() {
		if err := m.store.SaveLesson(&snapshot); err != nil {
			log.Printf("[Lessons] Failed to persist lesson %s: %v", snapshot.ID, err)
		}
	}()
}

func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldest *models.Lesson
	for k, l := range m.byKey {
		if l.Pinned {
			continue
		}
		if oldest == nil || l.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = l
			oldestKey = k
		}
	}
	if oldest == nil {
		return
	}
	delete(m.byKey, oldestKey)
	m.removeFromPrint(oldest)
}

func (m *Manager) removeFromPrint(l *models.Lesson) {
	list := m.byPrint[l.Fingerprint]
	for i, candidate := range list {
		if candidate == l {
			m.byPrint[l.Fingerprint] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.byPrint[l.Fingerprint]) == 0 {
		delete(m.byPrint, l.Fingerprint)
	}
}

func key(fingerprint, decision string) string {
	return fingerprint + "\x00" + decision
}
