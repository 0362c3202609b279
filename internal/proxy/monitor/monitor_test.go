package monitor

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.RequestLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestHistoryIsBoundedNewestFirst(t *testing.T) {
	m := New(nil, 3)
	defer m.Close()

	if got := m.History(10); len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}
	for i := 1; i <= 5; i++ {
		m.Record(models.RequestLog{Model: fmt.Sprintf("m%d", i), Status: 200, SourceFormat: "claude", TargetFormat: "gemini"})
	}

	got := m.History(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, want := range []string{"m5", "m4", "m3"} {
		if got[i].Model != want {
			t.Fatalf("event %d = %s, want %s", i, got[i].Model, want)
		}
	}
	if got := m.History(2); len(got) != 2 || got[0].Model != "m5" {
		t.Fatalf("History(2) = %+v", got)
	}
	if got[0].SourceFormat != "claude" || got[0].TargetFormat != "gemini" || got[0].Status != "success" || got[0].ID == "" || got[0].Timestamp == 0 {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestHistoryPartiallyFilled(t *testing.T) {
	m := New(nil, 5)
	m.Record(models.RequestLog{Model: "a", Status: 200})
	m.Record(models.RequestLog{Model: "b", Status: 429})
	got := m.History(10)
	if len(got) != 2 || got[0].Model != "b" || got[1].Model != "a" {
		t.Fatalf("History() = %+v", got)
	}
	if got[0].Status != "error" || got[0].StatusCode != 429 {
		t.Fatalf("expected error event, got %+v", got[0])
	}
	s := m.GetStats()
	if s.TotalRequests != 2 || s.SuccessCount != 1 || s.ErrorCount != 1 {
		t.Fatalf("GetStats() = %+v", s)
	}
}

func TestRecordPersistsAsynchronously(t *testing.T) {
	db := newTestDB(t)
	m := New(db, 10)
	for i := 0; i < 5; i++ {
		m.Record(models.RequestLog{RequestID: fmt.Sprintf("r%d", i), Status: 200, Timestamp: int64(1000 + i)})
	}
	m.Close()

	logs, err := m.GetLogs(3, 0)
	if err != nil {
		t.Fatalf("GetLogs() error: %v", err)
	}
	if len(logs) != 3 || logs[0].RequestID != "r4" {
		t.Fatalf("GetLogs() = %+v", logs)
	}

	// Stats survive a restart; history does not.
	again := New(db, 10)
	defer again.Close()
	if s := again.GetStats(); s.TotalRequests != 5 || s.SuccessCount != 5 {
		t.Fatalf("stats after reload = %+v", s)
	}
	if len(again.History(0)) != 0 {
		t.Fatal("history survived restart")
	}
}

func TestRecordAfterCloseDoesNotPanic(t *testing.T) {
	m := New(newTestDB(t), 2)
	m.Close()
	m.Close()
	m.Record(models.RequestLog{Status: 200})
	if len(m.History(0)) != 1 {
		t.Fatal("history should still record after close")
	}
}

func TestConcurrentRecord(t *testing.T) {
	m := New(nil, 50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(models.RequestLog{Status: 200})
				_ = m.History(5)
			}
		}()
	}
	wg.Wait()
	if got := m.GetStats().TotalRequests; got != 800 {
		t.Fatalf("TotalRequests = %d, want 800", got)
	}
	if got := len(m.History(0)); got != 50 {
		t.Fatalf("history length = %d, want 50", got)
	}
}
