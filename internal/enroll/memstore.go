package enroll

import (
	"sort"
	"sync"
	"time"

	"turnstile/internal/models"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	mu    sync.Mutex
	users map[string]models.DeviceUser // employee id -> профиль с пальцами
	next  uint
}

func NewMemStore() *memStore {
	return &memStore{users: make(map[string]models.DeviceUser), next: 1}
}

func (m *memStore) UpsertProfile(u models.DeviceUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.users[u.EmployeeID]
	if !ok {
		u.ID = m.next
		m.next++
		u.CreatedAt = time.Now()
		m.users[u.EmployeeID] = u
		return nil
	}
	// last-writer-wins по полям профиля; биометрия не трогается
	ex.Name = u.Name
	ex.Password = u.Password
	ex.Card = u.Card
	ex.Privilege = u.Privilege
	ex.Grp = u.Grp
	ex.UpdatedBySN = u.UpdatedBySN
	ex.UpdatedAt = time.Now()
	m.users[u.EmployeeID] = ex
	return nil
}

func (m *memStore) ReplaceFingerprint(f models.FingerTemplate, updatedBySN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.ensureLocked(f.EmployeeID)
	// remove-then-insert по индексу пальца
	kept := u.Fingers[:0]
	for _, ex := range u.Fingers {
		if ex.FingerIndex != f.FingerIndex {
			kept = append(kept, ex)
		}
	}
	f.CreatedAt = time.Now()
	u.Fingers = append(kept, f)
	sort.Slice(u.Fingers, func(i, j int) bool { return u.Fingers[i].FingerIndex < u.Fingers[j].FingerIndex })
	u.UpdatedBySN = updatedBySN
	u.UpdatedAt = time.Now()
	m.users[f.EmployeeID] = u
	return nil
}

func (m *memStore) UpsertFace(employeeID, template string, size int, updatedBySN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.ensureLocked(employeeID)
	u.FaceTemplate = template
	u.FaceSize = size
	u.UpdatedBySN = updatedBySN
	u.UpdatedAt = time.Now()
	m.users[employeeID] = u
	return nil
}

func (m *memStore) Get(employeeID string) (models.DeviceUser, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[employeeID]
	return u, ok, nil
}

func (m *memStore) List(snFilter string) ([]models.DeviceUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceUser
	for _, u := range m.users {
		if snFilter != "" && u.UpdatedBySN != snFilter {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// профиль может появиться с биометрии раньше, чем придёт USER-строка
func (m *memStore) ensureLocked(employeeID string) models.DeviceUser {
	if u, ok := m.users[employeeID]; ok {
		return u
	}
	u := models.DeviceUser{EmployeeID: employeeID}
	u.ID = m.next
	m.next++
	u.CreatedAt = time.Now()
	m.users[employeeID] = u
	return u
}
