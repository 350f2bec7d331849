package repo

import (
	"errors"

	"turnstile/internal/models"

	"gorm.io/gorm"
)

// EnrollStore — gorm-реализация enroll.Store.
type EnrollStore struct {
	db *gorm.DB
}

func NewEnrollStore(db *gorm.DB) *EnrollStore {
	return &EnrollStore{db: db}
}

func (s *EnrollStore) UpsertProfile(u models.DeviceUser) error {
	var ex models.DeviceUser
	tx := s.db.Where("employee_id = ?", u.EmployeeID).First(&ex)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return s.db.Create(&u).Error
		}
		return tx.Error
	}
	// last-writer-wins по полям профиля; биометрия не трогается
	return s.db.Model(&ex).Updates(map[string]any{
		"name":          u.Name,
		"password":      u.Password,
		"card":          u.Card,
		"privilege":     u.Privilege,
		"grp":           u.Grp,
		"updated_by_sn": u.UpdatedBySN,
	}).Error
}

// ReplaceFingerprint — атомарная замена пальца: remove-then-insert по
// (employee_id, finger_index) в одной транзакции, дубликат индекса невозможен.
func (s *EnrollStore) ReplaceFingerprint(f models.FingerTemplate, updatedBySN string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUser(tx, f.EmployeeID, updatedBySN); err != nil {
			return err
		}
		if err := tx.Unscoped().
			Where("employee_id = ? AND finger_index = ?", f.EmployeeID, f.FingerIndex).
			Delete(&models.FingerTemplate{}).Error; err != nil {
			return err
		}
		return tx.Create(&f).Error
	})
}

func (s *EnrollStore) UpsertFace(employeeID, template string, size int, updatedBySN string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUser(tx, employeeID, updatedBySN); err != nil {
			return err
		}
		return tx.Model(&models.DeviceUser{}).
			Where("employee_id = ?", employeeID).
			Updates(map[string]any{
				"face_template": template,
				"face_size":     size,
				"updated_by_sn": updatedBySN,
			}).Error
	})
}

func (s *EnrollStore) Get(employeeID string) (models.DeviceUser, bool, error) {
	var u models.DeviceUser
	err := s.db.
		Preload("Fingers", func(db *gorm.DB) *gorm.DB { return db.Order("finger_index ASC") }).
		Where("employee_id = ?", employeeID).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DeviceUser{}, false, nil
		}
		return models.DeviceUser{}, false, err
	}
	return u, true, nil
}

func (s *EnrollStore) List(snFilter string) ([]models.DeviceUser, error) {
	var out []models.DeviceUser
	q := s.db.
		Preload("Fingers", func(db *gorm.DB) *gorm.DB { return db.Order("finger_index ASC") }).
		Order("employee_id ASC")
	if snFilter != "" {
		q = q.Where("updated_by_sn = ?", snFilter)
	}
	err := q.Find(&out).Error
	return out, err
}

// биометрия может прийти раньше USER-строки — профиль заводится пустым
func (s *EnrollStore) ensureUser(tx *gorm.DB, employeeID, updatedBySN string) error {
	var u models.DeviceUser
	err := tx.Where("employee_id = ?", employeeID).First(&u).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(&models.DeviceUser{EmployeeID: employeeID, UpdatedBySN: updatedBySN}).Error
}
