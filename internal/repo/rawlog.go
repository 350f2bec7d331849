package repo

import (
	"turnstile/internal/models"
	"turnstile/internal/rawlog"

	"gorm.io/gorm"
)

// RawLogStore — gorm-реализация rawlog.Store.
type RawLogStore struct {
	db *gorm.DB
}

func NewRawLogStore(db *gorm.DB) *RawLogStore {
	return &RawLogStore{db: db}
}

func (s *RawLogStore) Append(r models.RawLog) error {
	return s.db.Create(&r).Error
}

func (s *RawLogStore) Query(f rawlog.Filter) ([]models.RawLog, error) {
	q := s.db.Model(&models.RawLog{}).Order("received_at DESC, id DESC")
	if f.SerialNumber != "" {
		q = q.Where("serial_number = ?", f.SerialNumber)
	}
	if f.TableName != "" {
		q = q.Where("table_name = ?", f.TableName)
	}
	if f.From != nil {
		q = q.Where("received_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("received_at <= ?", *f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []models.RawLog
	err := q.Find(&out).Error
	return out, err
}
