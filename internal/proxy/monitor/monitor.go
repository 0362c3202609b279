// Package monitor records completed gateway requests: a bounded in-memory
// history for the translator inspection API, running counters, and
// asynchronous persistence of usage rows.
package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/nexus-gateway/internal/db/models"
	"gorm.io/gorm"
)

const (
	// DefaultHistorySize is the ring buffer capacity when none is configured.
	DefaultHistorySize = 200
	// writeQueueSize bounds pending database writes; further entries are dropped.
	writeQueueSize = 1024
)

// HistoryEvent is one entry of the translator history.
type HistoryEvent struct {
	ID           string `json:"id"`
	RequestID    string `json:"requestId,omitempty"`
	SourceFormat string `json:"sourceFormat"`
	TargetFormat string `json:"targetFormat"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model"`
	Status       string `json:"status"`
	StatusCode   int    `json:"statusCode"`
	Latency      int64  `json:"latency"`   // milliseconds
	Timestamp    int64  `json:"timestamp"` // unix ms
}

// Monitor manages request history, statistics and usage persistence.
type Monitor struct {
	db *gorm.DB

	histMu  sync.Mutex
	history []HistoryEvent
	next    int
	full    bool

	// In-memory stats (updated atomically)
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	dropped       atomic.Int64

	queueMu sync.RWMutex
	closed  bool
	writes  chan models.RequestLog
	wg      sync.WaitGroup
}

// New creates a monitor keeping historySize events. db may be nil, in which
// case nothing is persisted.
func New(db *gorm.DB, historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	m := &Monitor{
		db:      db,
		history: make([]HistoryEvent, historySize),
	}
	if db != nil {
		m.loadStatsFromDB()
		m.writes = make(chan models.RequestLog, writeQueueSize)
		m.wg.Add(1)
		go m.writeLoop()
	}
	return m
}

// Record stores entry in the history and queues it for persistence. It
// never blocks on the database.
func (m *Monitor) Record(entry models.RequestLog) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	m.totalRequests.Add(1)
	status := "success"
	if entry.Status >= 200 && entry.Status < 400 {
		m.successCount.Add(1)
	} else {
		m.errorCount.Add(1)
		status = "error"
	}

	m.push(HistoryEvent{
		ID:           entry.ID,
		RequestID:    entry.RequestID,
		SourceFormat: entry.SourceFormat,
		TargetFormat: entry.TargetFormat,
		Provider:     entry.Provider,
		Model:        entry.Model,
		Status:       status,
		StatusCode:   entry.Status,
		Latency:      entry.Duration,
		Timestamp:    entry.Timestamp,
	})

	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.writes == nil || m.closed {
		return
	}
	select {
	case m.writes <- entry:
	default:
		if n := m.dropped.Add(1); n%100 == 1 {
			log.Printf("⚠️ [Monitor] Write queue full, dropped %d usage rows so far", n)
		}
	}
}

func (m *Monitor) push(ev HistoryEvent) {
	m.histMu.Lock()
	m.history[m.next] = ev
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.full = true
	}
	m.histMu.Unlock()
}

// History returns up to limit events, newest first. limit <= 0 means all.
func (m *Monitor) History(limit int) []HistoryEvent {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	n := m.next
	if m.full {
		n = len(m.history)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.history)) % len(m.history)
		out = append(out, m.history[idx])
	}
	return out
}

func (m *Monitor) writeLoop() {
	defer m.wg.Done()
	for entry := range m.writes {
		if err := m.db.Create(&entry).Error; err != nil {
			log.Printf("[Monitor] Failed to save log: %v", err)
		}
	}
}

// GetLogs returns persisted request logs, newest first, with optional time filter
func (m *Monitor) GetLogs(limit int, sinceMinutes int) ([]models.RequestLog, error) {
	if m.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	var logs []models.RequestLog
	query := m.db.Order("timestamp DESC").Limit(limit)

	// Apply time filter if specified
	if sinceMinutes > 0 {
		sinceTime := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
		query = query.Where("timestamp >= ?", sinceTime)
	}

	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetStats returns aggregated request statistics
func (m *Monitor) GetStats() models.RequestStats {
	return models.RequestStats{
		TotalRequests: m.totalRequests.Load(),
		SuccessCount:  m.successCount.Load(),
		ErrorCount:    m.errorCount.Load(),
	}
}

// Close stops accepting writes and waits for queued rows to be saved.
func (m *Monitor) Close() {
	m.queueMu.Lock()
	if m.closed || m.writes == nil {
		m.closed = true
		m.queueMu.Unlock()
		return
	}
	m.closed = true
	close(m.writes)
	m.queueMu.Unlock()
	m.wg.Wait()
}

// loadStatsFromDB loads initial statistics from database
func (m *Monitor) loadStatsFromDB() {
	var total, success, errors int64

	m.db.Model(&models.RequestLog{}).Count(&total)
	m.db.Model(&models.RequestLog{}).Where("status >= 200 AND status < 400").Count(&success)
	m.db.Model(&models.RequestLog{}).Where("status < 200 OR status >= 400").Count(&errors)

	m.totalRequests.Store(total)
	m.successCount.Store(success)
	m.errorCount.Store(errors)

	log.Printf("[Monitor] Loaded stats: total=%d, success=%d, errors=%d", total, success, errors)
}
