package cmdqueue

import (
	"strings"
	"sync"
	"time"

	"turnstile/internal/models"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	mu   sync.Mutex
	cmds []models.DeviceCommand
	next uint
}

func NewMemStore() *memStore {
	return &memStore{next: 1}
}

func (m *memStore) Append(cmd models.DeviceCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd.ID = m.next
	m.next++
	cmd.CreatedAt = time.Now()
	m.cmds = append(m.cmds, cmd)
	return nil
}

func (m *memStore) OldestPending(serial string) (models.DeviceCommand, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cmds { // append-only, порядок = порядок постановки
		if c.SerialNumber == serial && c.Status == models.CmdPending {
			return c, true, nil
		}
	}
	return models.DeviceCommand{}, false, nil
}

func (m *memStore) MarkSent(commandID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.cmds {
		if m.cmds[i].CommandID == commandID && m.cmds[i].Status == models.CmdPending {
			m.cmds[i].Status = models.CmdSent
			m.cmds[i].SentAt = &at
			return nil
		}
	}
	return nil // уже SENT/завершена — переход назад невозможен
}

func (m *memStore) LatestSentBySuffix(serial, suffix string) (models.DeviceCommand, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.cmds) - 1; i >= 0; i-- {
		c := m.cmds[i]
		if c.SerialNumber == serial && c.Status == models.CmdSent && strings.HasSuffix(c.CommandID, suffix) {
			return c, true, nil
		}
	}
	return models.DeviceCommand{}, false, nil
}

func (m *memStore) Complete(commandID, status, returnCode, raw string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.cmds {
		if m.cmds[i].CommandID == commandID && m.cmds[i].Status == models.CmdSent {
			m.cmds[i].Status = status
			m.cmds[i].ReturnCode = returnCode
			m.cmds[i].RawResult = raw
			m.cmds[i].CompletedAt = &at
			return nil
		}
	}
	return nil // терминальные состояния финальны
}

func (m *memStore) ListBySerial(serial string, limit int) ([]models.DeviceCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceCommand
	for i := len(m.cmds) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.cmds[i].SerialNumber == serial {
			out = append(out, m.cmds[i])
		}
	}
	return out, nil
}
