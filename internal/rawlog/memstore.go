package rawlog

import (
	"sync"
	"time"

	"turnstile/internal/models"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	mu   sync.Mutex
	rows []models.RawLog
	next uint
}

func NewMemStore() *memStore { return &memStore{next: 1} }

func (m *memStore) Append(r models.RawLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.next
	m.next++
	r.CreatedAt = time.Now()
	m.rows = append(m.rows, r)
	return nil
}

func (m *memStore) Query(f Filter) ([]models.RawLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.RawLog
	for i := len(m.rows) - 1; i >= 0; i-- { // свежие первыми
		r := m.rows[i]
		if f.SerialNumber != "" && r.SerialNumber != f.SerialNumber {
			continue
		}
		if f.TableName != "" && r.TableName != f.TableName {
			continue
		}
		if f.From != nil && r.ReceivedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.ReceivedAt.After(*f.To) {
			continue
		}
		matched = append(matched, r)
	}
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}
