package logging

import (
	"testing"
	"time"
)

func TestLogAndGetRecent(t *testing.T) {
	m := NewManager(nil)

	m.Info("queue", "task accepted", map[string]interface{}{"task_id": "t-1"})
	m.Error("worker", "backend unavailable", map[string]interface{}{"task_id": "t-1", "worker": "gpt-4o"})
	m.Info("queue", "task accepted", map[string]interface{}{"task_id": "t-2"})

	all := m.GetRecent(10, Filter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	// Newest first
	if got := getMetaString(all[0].Metadata, "task_id"); got != "t-2" {
		t.Errorf("expected newest first (t-2), got %s", got)
	}

	errs := m.GetRecent(10, Filter{Level: LogLevelError})
	if len(errs) != 1 || errs[0].Source != "worker" {
		t.Fatalf("level filter failed: %+v", errs)
	}

	byTask := m.GetRecent(10, Filter{TaskID: "t-1"})
	if len(byTask) != 2 {
		t.Errorf("expected 2 entries for t-1, got %d", len(byTask))
	}

	byWorker := m.GetRecent(10, Filter{Worker: "gpt-4o"})
	if len(byWorker) != 1 {
		t.Errorf("expected 1 entry for worker filter, got %d", len(byWorker))
	}
}

func TestGetRecentLimit(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 10; i++ {
		m.Info("test", "entry", nil)
	}
	got := m.GetRecent(3, Filter{})
	if len(got) != 3 {
		t.Errorf("expected limit of 3, got %d", len(got))
	}
}

func TestGetRecentTimeWindow(t *testing.T) {
	m := NewManager(nil)
	m.Info("test", "old", nil)

	cut := time.Now()
	time.Sleep(5 * time.Millisecond)
	m.Info("test", "new", nil)

	recent := m.GetRecent(10, Filter{Since: cut})
	if len(recent) != 1 || recent[0].Message != "new" {
		t.Fatalf("since filter failed: %+v", recent)
	}

	older := m.GetRecent(10, Filter{Until: cut})
	if len(older) != 1 || older[0].Message != "old" {
		t.Fatalf("until filter failed: %+v", older)
	}
}

func TestHandlersNotified(t *testing.T) {
	m := NewManager(nil)
	got := make(chan LogEntry, 1)
	m.AddHandler(func(e LogEntry) { got <- e })

	m.Warn("gate", "fail-open", nil)

	select {
	case e := <-got:
		if e.Level != LogLevelWarn || e.Source != "gate" {
			t.Errorf("unexpected entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not notified")
	}
}

func TestInterceptWriterParsing(t *testing.T) {
	m := NewManager(nil)
	w := &logInterceptWriter{manager: m}

	if _, err := w.Write([]byte("2026/08/26 10:00:00 [Queue] task t-1 completed\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries := m.GetRecent(1, Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Source != "queue" {
		t.Errorf("expected source queue, got %s", entries[0].Source)
	}
	if entries[0].Message != "task t-1 completed" {
		t.Errorf("unexpected message: %q", entries[0].Message)
	}

	if _, err := w.Write([]byte("[Worker] backend request failed\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	entries = m.GetRecent(1, Filter{})
	if entries[0].Level != LogLevelError {
		t.Errorf("expected error level from 'failed' keyword, got %s", entries[0].Level)
	}
}

func TestRebindQuery(t *testing.T) {
	got := rebindQuery("SELECT * FROM logs WHERE level = ? AND source = ?")
	want := "SELECT * FROM logs WHERE level = $1 AND source = $2"
	if got != want {
		t.Errorf("rebindQuery = %q, want %q", got, want)
	}
}
