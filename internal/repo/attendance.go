package repo

import (
	"turnstile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttendanceStore — gorm-реализация ingest.AttendanceStore.
type AttendanceStore struct {
	db *gorm.DB
}

func NewAttendanceStore(db *gorm.DB) *AttendanceStore {
	return &AttendanceStore{db: db}
}

// Upsert — идемпотентная запись по естественному ключу (employee_id,
// event_time). Конфликт — значит событие уже знаем: освежаем метаданные,
// дубль не создаём.
func (s *AttendanceStore) Upsert(rec models.AttendanceLog) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_id"}, {Name: "event_time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"serial_number", "device_name", "synced_at", "updated_at",
		}),
	}).Create(&rec).Error
}

func (s *AttendanceStore) Count() (int64, error) {
	var n int64
	err := s.db.Model(&models.AttendanceLog{}).Count(&n).Error
	return n, err
}

func (s *AttendanceStore) ListRecent(limit int) ([]models.AttendanceLog, error) {
	var out []models.AttendanceLog
	q := s.db.Order("event_time DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
