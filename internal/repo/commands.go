package repo

import (
	"errors"
	"time"

	"turnstile/internal/models"

	"gorm.io/gorm"
)

// CommandStore — gorm-реализация cmdqueue.Store.
// Монотонность машины состояний держится на условных UPDATE:
// переход применяется только из ожидаемого статуса, иначе 0 строк.
type CommandStore struct {
	db *gorm.DB
}

func NewCommandStore(db *gorm.DB) *CommandStore {
	return &CommandStore{db: db}
}

func (s *CommandStore) Append(cmd models.DeviceCommand) error {
	return s.db.Create(&cmd).Error
}

func (s *CommandStore) OldestPending(serial string) (models.DeviceCommand, bool, error) {
	var m models.DeviceCommand
	err := s.db.
		Where("serial_number = ? AND status = ?", serial, models.CmdPending).
		Order("queued_at ASC, id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DeviceCommand{}, false, nil
		}
		return models.DeviceCommand{}, false, err
	}
	return m, true, nil
}

func (s *CommandStore) MarkSent(commandID string, at time.Time) error {
	return s.db.Model(&models.DeviceCommand{}).
		Where("command_id = ? AND status = ?", commandID, models.CmdPending).
		Updates(map[string]any{"status": models.CmdSent, "sent_at": at}).Error
}

func (s *CommandStore) LatestSentBySuffix(serial, suffix string) (models.DeviceCommand, bool, error) {
	var m models.DeviceCommand
	err := s.db.
		Where("serial_number = ? AND status = ? AND command_id LIKE ?",
			serial, models.CmdSent, "%"+suffix).
		Order("sent_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DeviceCommand{}, false, nil
		}
		return models.DeviceCommand{}, false, err
	}
	return m, true, nil
}

func (s *CommandStore) Complete(commandID, status, returnCode, raw string, at time.Time) error {
	return s.db.Model(&models.DeviceCommand{}).
		Where("command_id = ? AND status = ?", commandID, models.CmdSent).
		Updates(map[string]any{
			"status":       status,
			"return_code":  returnCode,
			"raw_result":   raw,
			"completed_at": at,
		}).Error
}

func (s *CommandStore) ListBySerial(serial string, limit int) ([]models.DeviceCommand, error) {
	var out []models.DeviceCommand
	q := s.db.Where("serial_number = ?", serial).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
