package repo

import (
	"errors"

	"turnstile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStore — gorm-реализация registry.Store.
type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

func (s *DeviceStore) FindBySerial(serial string) (models.Device, bool, error) {
	var m models.Device
	err := s.db.Where("serial_number = ?", serial).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Device{}, false, nil
		}
		return models.Device{}, false, err
	}
	return m, true, nil
}

// CreateIfAbsent — атомарный find-or-create: INSERT ... ON CONFLICT DO NOTHING
// по serial_number, затем refetch. Никаких in-process локов — два конкурентных
// heartbeat упираются в уникальный индекс, не друг в друга.
func (s *DeviceStore) CreateIfAbsent(d models.Device) (models.Device, bool, error) {
	tx := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial_number"}},
		DoNothing: true,
	}).Create(&d)
	if tx.Error != nil {
		return models.Device{}, false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return d, true, nil
	}
	// проиграли гонку — читаем победителя
	existing, ok, err := s.FindBySerial(d.SerialNumber)
	if err != nil {
		return models.Device{}, false, err
	}
	if !ok {
		return models.Device{}, false, gorm.ErrRecordNotFound
	}
	return existing, false, nil
}

func (s *DeviceStore) UpdateFields(serial string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.Model(&models.Device{}).
		Where("serial_number = ?", serial).
		Updates(fields).Error
}

func (s *DeviceStore) CountAutoRegistered() (int64, error) {
	var n int64
	err := s.db.Model(&models.Device{}).Where("auto_registered = ?", true).Count(&n).Error
	return n, err
}

func (s *DeviceStore) ListEnabled() ([]models.Device, error) {
	var out []models.Device
	err := s.db.Where("enabled = ?", true).Order("id").Find(&out).Error
	return out, err
}

func (s *DeviceStore) ListAll() ([]models.Device, error) {
	var out []models.Device
	err := s.db.Order("id").Find(&out).Error
	return out, err
}
