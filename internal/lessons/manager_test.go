package lessons

import (
	"errors"
	"testing"
	"time"

	"github.com/jordanhubbard/spindle/pkg/models"
)

func waitForCount(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count() = %d, want %d", m.Count(), want)
}

func waitForLesson(t *testing.T, m *Manager, fingerprint string, check func(*models.Lesson) bool) *models.Lesson {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l := m.Query(fingerprint); l != nil && check(l) {
			return l
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lesson for %.12s never reached expected state", fingerprint)
	return nil
}

func TestFingerprint_NormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("What Time  Is It?")
	b := Fingerprint("  what time is it?  ")
	if a != b {
		t.Error("fingerprints of equivalent requests should match")
	}

	c := Fingerprint("what time is it?", "session-1")
	if a == c {
		t.Error("routing context should change the fingerprint")
	}
}

func TestManager_RecordAndQuery(t *testing.T) {
	m := NewManager(nil, 0)
	defer m.Close()

	fp := Fingerprint("explain goroutines")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{LatencyMs: 120})
	waitForCount(t, m, 1)

	l := m.Query(fp)
	if l == nil {
		t.Fatal("Query() returned nil for recorded lesson")
	}
	if l.Decision != "direct" || l.Outcome != models.LessonOutcomeSuccess {
		t.Errorf("lesson = %+v, want direct/success", l)
	}
	if l.Confirmations != 1 {
		t.Errorf("Confirmations = %d, want 1", l.Confirmations)
	}
}

func TestManager_RepeatedSuccessConfirms(t *testing.T) {
	m := NewManager(nil, 0)
	defer m.Close()

	fp := Fingerprint("same request")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})

	l := waitForLesson(t, m, fp, func(l *models.Lesson) bool { return l.Confirmations == 3 })
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (deduplicated)", m.Count())
	}
	if l.Outcome != models.LessonOutcomeSuccess {
		t.Errorf("Outcome = %s, want success", l.Outcome)
	}
}

func TestManager_FailureResetsConfirmations(t *testing.T) {
	m := NewManager(nil, 0)
	defer m.Close()

	fp := Fingerprint("flaky request")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fp, "direct", models.LessonOutcomeFailure, RecordMeta{})

	waitForLesson(t, m, fp, func(l *models.Lesson) bool {
		return l.Outcome == models.LessonOutcomeFailure && l.Confirmations == 0
	})
}

func TestManager_QueryPrefersPinned(t *testing.T) {
	m := NewManager(nil, 0)
	defer m.Close()

	fp := Fingerprint("ambiguous request")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fp, "self_review", models.LessonOutcomeSuccess, RecordMeta{})
	waitForCount(t, m, 2)

	if !m.Pin(fp, "self_review") {
		t.Fatal("Pin() returned false for existing lesson")
	}

	l := m.Query(fp)
	if l == nil || l.Decision != "self_review" {
		t.Errorf("Query() = %+v, want pinned self_review lesson", l)
	}
}

func TestManager_PruneRespectsPinning(t *testing.T) {
	m := NewManager(nil, 0)
	defer m.Close()

	fpOld := Fingerprint("old request")
	fpPinned := Fingerprint("pinned request")
	m.Record(fpOld, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	m.Record(fpPinned, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	waitForCount(t, m, 2)
	m.Pin(fpPinned, "direct")

	// With a zero TTL everything unpinned is expired.
	removed := m.Prune(0)
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	if m.Query(fpPinned) == nil {
		t.Error("pinned lesson should survive pruning")
	}
	if m.Query(fpOld) != nil {
		t.Error("unpinned expired lesson should be evicted")
	}
}

type flakyStore struct {
	saved   chan *models.Lesson
	failAll bool
}

func (s *flakyStore) SaveLesson(l *models.Lesson) error {
	if s.failAll {
		return errors.New("store unavailable")
	}
	s.saved <- l
	return nil
}

func (s *flakyStore) LoadLessons() ([]*models.Lesson, error) { return nil, nil }

func TestManager_StoreFailureNeverBlocks(t *testing.T) {
	m := NewManager(&flakyStore{failAll: true}, 0)
	defer m.Close()

	fp := Fingerprint("persist me")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})
	waitForCount(t, m, 1)

	// In-memory state is intact despite the persistence failure.
	if m.Query(fp) == nil {
		t.Error("lesson should be queryable even when the store fails")
	}
}

func TestManager_PersistsToStore(t *testing.T) {
	store := &flakyStore{saved: make(chan *models.Lesson, 4)}
	m := NewManager(store, 0)
	defer m.Close()

	fp := Fingerprint("persist me")
	m.Record(fp, "direct", models.LessonOutcomeSuccess, RecordMeta{})

	select {
	case l := <-store.saved:
		if l.Fingerprint != fp {
			t.Errorf("persisted fingerprint = %s, want %s", l.Fingerprint, fp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lesson was never persisted")
	}
}

func TestManager_EvictsOldestAtCapacity(t *testing.T) {
	m := NewManager(nil, 2)
	defer m.Close()

	m.Record(Fingerprint("first"), "direct", models.LessonOutcomeSuccess, RecordMeta{})
	waitForCount(t, m, 1)
	m.Record(Fingerprint("second"), "direct", models.LessonOutcomeSuccess, RecordMeta{})
	waitForCount(t, m, 2)
	m.Record(Fingerprint("third"), "direct", models.LessonOutcomeSuccess, RecordMeta{})

	waitForLesson(t, m, Fingerprint("third"), func(l *models.Lesson) bool { return true })
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2 after eviction", m.Count())
	}
	if m.Query(Fingerprint("first")) != nil {
		t.Error("oldest lesson should have been evicted")
	}
}
