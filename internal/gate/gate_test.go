package gate

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/spindle/internal/cache"
	"github.com/jordanhubbard/spindle/internal/lessons"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

func waitForLesson(t *testing.T, m *lessons.Manager, fingerprint string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Query(fingerprint) != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lesson for fingerprint %s never recorded", fingerprint)
}

func newTestGate(t *testing.T, cfg config.GateConfig) (*Gate, *lessons.Manager, *cache.MemoryCache, *skills.Registry) {
	t.Helper()
	lm := lessons.NewManager(nil, 100)
	t.Cleanup(lm.Close)
	mc := cache.NewMemoryCache(100)
	reg := skills.NewRegistry()
	return New(lm, mc, reg, cfg), lm, mc, reg
}

func TestClassify_CacheHitAfterSuccessfulLesson(t *testing.T) {
	g, lm, mc, _ := newTestGate(t, config.GateConfig{MinConfirmations: 1})

	task := &models.Task{ID: "t1", Content: "Explain   GOROUTINES please"}
	fp := lessons.Fingerprint(task.Content, task.FlowHint)

	lm.Record(fp, "direct", models.LessonOutcomeSuccess, lessons.RecordMeta{})
	waitForLesson(t, lm, fp)
	mc.Set(context.Background(), &cache.Entry{
		Fingerprint: fp,
		Answer:      "goroutines are lightweight threads",
		Flow:        models.FlowDirect,
	}, time.Hour)

	res := g.Classify(context.Background(), task)
	if res.CacheHit == nil {
		t.Fatal("expected cache hit after confirmed successful lesson")
	}
	if res.CacheHit.Text != "goroutines are lightweight threads" {
		t.Errorf("CacheHit.Text = %q", res.CacheHit.Text)
	}

	// Whitespace and casing variance maps to the same fingerprint.
	variant := &models.Task{ID: "t2", Content: "explain goroutines PLEASE"}
	if got := g.Classify(context.Background(), variant); got.CacheHit == nil {
		t.Error("expected normalized variant to hit the same cached answer")
	}
}

func TestClassify_NoCacheHitBelowConfirmationThreshold(t *testing.T) {
	g, lm, mc, _ := newTestGate(t, config.GateConfig{MinConfirmations: 3})

	task := &models.Task{ID: "t1", Content: "explain channels"}
	fp := lessons.Fingerprint(task.Content, task.FlowHint)
	lm.Record(fp, "direct", models.LessonOutcomeSuccess, lessons.RecordMeta{})
	waitForLesson(t, lm, fp)
	mc.Set(context.Background(), &cache.Entry{Fingerprint: fp, Answer: "x", Flow: models.FlowDirect}, time.Hour)

	if res := g.Classify(context.Background(), task); res.CacheHit != nil {
		t.Error("single success should not satisfy a threshold of 3")
	}
}

func TestClassify_PinnedLessonBypassesThreshold(t *testing.T) {
	g, lm, mc, _ := newTestGate(t, config.GateConfig{MinConfirmations: 5})

	task := &models.Task{ID: "t1", Content: "company holiday policy"}
	fp := lessons.Fingerprint(task.Content, task.FlowHint)
	lm.Record(fp, "direct", models.LessonOutcomeSuccess, lessons.RecordMeta{})
	waitForLesson(t, lm, fp)
	if !lm.Pin(fp, "direct") {
		t.Fatal("Pin() failed")
	}
	mc.Set(context.Background(), &cache.Entry{Fingerprint: fp, Answer: "see handbook", Flow: models.FlowDirect}, time.Hour)

	if res := g.Classify(context.Background(), task); res.CacheHit == nil {
		t.Error("pinned successful lesson should hit regardless of confirmations")
	}
}

func TestClassify_FailedLessonNeverHits(t *testing.T) {
	g, lm, mc, _ := newTestGate(t, config.GateConfig{MinConfirmations: 1})

	task := &models.Task{ID: "t1", Content: "explain channels"}
	fp := lessons.Fingerprint(task.Content, task.FlowHint)
	lm.Record(fp, "direct", models.LessonOutcomeFailure, lessons.RecordMeta{})
	waitForLesson(t, lm, fp)
	mc.Set(context.Background(), &cache.Entry{Fingerprint: fp, Answer: "stale", Flow: models.FlowDirect}, time.Hour)

	if res := g.Classify(context.Background(), task); res.CacheHit != nil {
		t.Error("failed lesson must not produce a cache hit")
	}
}

func TestClassify_ToolIntent(t *testing.T) {
	g, _, _, reg := newTestGate(t, config.GateConfig{MinConfirmations: 1})
	reg.Register(&skills.ClockSkill{})

	res := g.Classify(context.Background(), &models.Task{ID: "t1", Content: "What time is it?"})
	if !res.NeedsTool {
		t.Fatal("expected NeedsTool for a time request")
	}
	if res.ToolHint != "clock" {
		t.Errorf("ToolHint = %q, want clock", res.ToolHint)
	}
	if res.ToolMissing {
		t.Error("clock is registered, ToolMissing should be false")
	}
}

func TestClassify_FailOpenWhenToolUnregistered(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.GateConfig{MinConfirmations: 1})

	res := g.Classify(context.Background(), &models.Task{ID: "t1", Content: "search the web for go releases"})
	if res.NeedsTool {
		t.Error("fail-open default should fall back to generation")
	}
	if res.ToolMissing {
		t.Error("ToolMissing is only set in strict mode")
	}
}

func TestClassify_StrictToolsSurfacesMissingCapability(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.GateConfig{StrictTools: true, MinConfirmations: 1})

	res := g.Classify(context.Background(), &models.Task{ID: "t1", Content: "search the web for go releases"})
	if !res.ToolMissing {
		t.Error("strict mode should report the missing capability")
	}
	if !res.NeedsTool || res.ToolHint != "web_search" {
		t.Errorf("classification lost: NeedsTool=%v ToolHint=%q", res.NeedsTool, res.ToolHint)
	}
}

func TestClassify_AmbiguousDefaultsToGeneration(t *testing.T) {
	g, _, _, _ := newTestGate(t, config.GateConfig{MinConfirmations: 1})

	res := g.Classify(context.Background(), &models.Task{ID: "t1", Content: "explain the actor model"})
	if res.NeedsTool || res.CacheHit != nil {
		t.Errorf("ambiguous request should default to generation: %+v", res)
	}
}
