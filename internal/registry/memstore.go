package registry

import (
	"sort"
	"sync"
	"time"

	"turnstile/internal/models"

	"gorm.io/datatypes"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	mu       sync.RWMutex
	bySerial map[string]models.Device
	nextID   uint
}

func NewMemStore() *memStore {
	return &memStore{bySerial: make(map[string]models.Device), nextID: 1}
}

func (m *memStore) FindBySerial(serial string) (models.Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.bySerial[serial]
	return d, ok, nil
}

func (m *memStore) CreateIfAbsent(d models.Device) (models.Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.bySerial[d.SerialNumber]; ok {
		return ex, false, nil
	}
	d.ID = m.nextID
	m.nextID++
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.bySerial[d.SerialNumber] = d
	return d, true, nil
}

func (m *memStore) UpdateFields(serial string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.bySerial[serial]
	if !ok {
		return nil
	}
	for k, v := range fields {
		switch k {
		case "ip_address":
			d.IPAddress = v.(string)
		case "port":
			d.Port = v.(int)
		case "last_seen":
			t := v.(time.Time)
			d.LastSeen = &t
		case "user_count":
			d.UserCount = v.(int)
		case "finger_count":
			d.FingerCount = v.(int)
		case "face_count":
			d.FaceCount = v.(int)
		case "transaction_count":
			d.TransactionCount = v.(int)
		case "max_users":
			d.MaxUsers = v.(int)
		case "max_fingers":
			d.MaxFingers = v.(int)
		case "max_faces":
			d.MaxFaces = v.(int)
		case "fw_version":
			d.FWVersion = v.(string)
		case "platform":
			d.Platform = v.(string)
		case "device_name":
			d.DeviceName = v.(string)
		case "push_prot_ver":
			d.PushProtVer = v.(string)
		case "has_fingerprint":
			d.HasFingerprint = v.(bool)
		case "has_face":
			d.HasFace = v.(bool)
		case "has_palm":
			d.HasPalm = v.(bool)
		case "has_card":
			d.HasCard = v.(bool)
		case "field_separator":
			d.FieldSeparator = v.(string)
		case "encoding":
			d.Encoding = v.(string)
		case "enabled":
			d.Enabled = v.(bool)
		case "online":
			d.Online = v.(bool)
		case "raw_options":
			d.RawOptions = datatypes.JSON(v.([]byte))
		}
	}
	d.UpdatedAt = time.Now()
	m.bySerial[serial] = d
	return nil
}

func (m *memStore) CountAutoRegistered() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, d := range m.bySerial {
		if d.AutoRegistered {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListEnabled() ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Device
	for _, d := range m.bySerial {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListAll() ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.bySerial))
	for _, d := range m.bySerial {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
