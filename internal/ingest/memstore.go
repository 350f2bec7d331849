package ingest

import (
	"sync"
	"time"

	"turnstile/internal/models"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type attKey struct {
	emp string
	ts  int64
}

type memStore struct {
	mu    sync.Mutex
	byKey map[attKey]models.AttendanceLog
	order []attKey
	next  uint
}

func NewMemStore() *memStore {
	return &memStore{byKey: make(map[attKey]models.AttendanceLog), next: 1}
}

func (m *memStore) Upsert(rec models.AttendanceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := attKey{emp: rec.EmployeeID, ts: rec.EventTime.Unix()}
	if ex, ok := m.byKey[k]; ok {
		// естественный ключ совпал: освежаем метаданные, дубль не создаём
		ex.DeviceName = rec.DeviceName
		ex.SerialNumber = rec.SerialNumber
		ex.SyncedAt = rec.SyncedAt
		ex.UpdatedAt = time.Now()
		m.byKey[k] = ex
		return nil
	}
	rec.ID = m.next
	m.next++
	rec.CreatedAt = time.Now()
	m.byKey[k] = rec
	m.order = append(m.order, k)
	return nil
}

func (m *memStore) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byKey)), nil
}

func (m *memStore) ListRecent(limit int) ([]models.AttendanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceLog
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.byKey[m.order[i]])
	}
	return out, nil
}
