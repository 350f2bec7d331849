// Package cmdqueue — per-device FIFO исходящих команд.
//
// Машина состояний команды: PENDING → SENT → {SUCCESS, FAIL},
// только вперёд, без пропусков. Таймаута у SENT нет: если терминал так и
// не отчитался, команда остаётся SENT навсегда — чистка операционная.
package cmdqueue

import (
	"strings"
	"time"

	"turnstile/internal/logs"
	"turnstile/internal/models"

	"github.com/google/uuid"
)

// Store — контракт хранилища команд. Реализация обязана соблюдать
// монотонность переходов: MarkSent только из PENDING, Complete только из SENT.
type Store interface {
	Append(cmd models.DeviceCommand) error
	OldestPending(serial string) (models.DeviceCommand, bool, error)
	MarkSent(commandID string, at time.Time) error
	// LatestSentBySuffix — самая свежая SENT-команда устройства, чей
	// идентификатор оканчивается на suffix.
	LatestSentBySuffix(serial, suffix string) (models.DeviceCommand, bool, error)
	Complete(commandID, status, returnCode, raw string, at time.Time) error
	ListBySerial(serial string, limit int) ([]models.DeviceCommand, error)
}

// На провод уходит только 6 символов идентификатора — так зашито в прошивках.
const wireIDLen = 6

type Queue struct {
	store Store
}

func New(store Store) *Queue {
	if store == nil {
		store = NewMemStore()
	}
	return &Queue{store: store}
}

func (q *Queue) Store() Store { return q.store }

// Enqueue ставит команду в очередь устройства в статусе PENDING.
// Идентификатор — 32 hex-символа (uuid без дефисов): суффиксные коллизии
// протокол не исключает, но широкое пространство генерации делает их
// маловероятными, не меняя формат ответа устройства.
func (q *Queue) Enqueue(serial, command string) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	cmd := models.DeviceCommand{
		CommandID:    id,
		SerialNumber: serial,
		Command:      command,
		Status:       models.CmdPending,
		QueuedAt:     time.Now(),
	}
	if err := q.store.Append(cmd); err != nil {
		return "", err
	}
	return id, nil
}

// NextPending отдаёт самую старую PENDING-команду устройства (FIFO),
// переводит её в SENT и ставит sent_at.
func (q *Queue) NextPending(serial string) (models.DeviceCommand, bool, error) {
	cmd, ok, err := q.store.OldestPending(serial)
	if err != nil || !ok {
		return models.DeviceCommand{}, false, err
	}
	now := time.Now()
	if err := q.store.MarkSent(cmd.CommandID, now); err != nil {
		return models.DeviceCommand{}, false, err
	}
	cmd.Status = models.CmdSent
	cmd.SentAt = &now
	return cmd, true, nil
}

// CorrelateResult сопоставляет ответ терминала (6-символьный суффикс) с
// самой свежей SENT-командой устройства. Промах — не ошибка: результат
// логируется и молча отбрасывается, устройство в любом случае получает OK.
//
// Известная неоднозначность протокола: при совпадении хвостов двух SENT-команд
// или завершении не по порядку возможна ошибочная атрибуция. Формат ответа
// зашит в прошивку, сильнее его не сделать.
func (q *Queue) CorrelateResult(serial, suffix, returnCode, raw string) error {
	cmd, ok, err := q.store.LatestSentBySuffix(serial, suffix)
	if err != nil {
		return err
	}
	if !ok {
		logs.Logger.Infof("device %s: no SENT command matches suffix %q, result dropped", serial, suffix)
		return nil
	}
	status := models.CmdFail
	if returnCode == "0" {
		status = models.CmdSuccess
	}
	return q.store.Complete(cmd.CommandID, status, returnCode, raw, time.Now())
}

// WireID — хвост идентификатора, который видит устройство.
func WireID(commandID string) string {
	if len(commandID) <= wireIDLen {
		return commandID
	}
	return commandID[len(commandID)-wireIDLen:]
}

// FormatWire — строка доставки команды: C:<6-char-id>:<command>.
func FormatWire(cmd models.DeviceCommand) string {
	return "C:" + WireID(cmd.CommandID) + ":" + cmd.Command
}
