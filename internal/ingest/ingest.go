// Package ingest — конвейер приёма отметок ATTLOG.
package ingest

import (
	"time"

	"turnstile/internal/logs"
	"turnstile/internal/models"
	"turnstile/internal/wire"
)

// AttendanceStore — контракт хранилища отметок. Upsert обязан быть атомарным
// по естественному ключу (employee_id, event_time): повторная загрузка того же
// события обновляет метаданные, но не создаёт дубль.
type AttendanceStore interface {
	Upsert(rec models.AttendanceLog) error
	Count() (int64, error)
	ListRecent(limit int) ([]models.AttendanceLog, error)
}

type Pipeline struct {
	store AttendanceStore
	relay *Relay // nil — relay выключен
}

func NewPipeline(store AttendanceStore, relay *Relay) *Pipeline {
	if store == nil {
		store = NewMemStore()
	}
	return &Pipeline{store: store, relay: relay}
}

func (p *Pipeline) Store() AttendanceStore { return p.store }

// Ingest разбирает тело ATTLOG в диалекте устройства, классифицирует режим
// отметки и идемпотентно сохраняет каждую запись. Возвращает число принятых
// записей. Ошибка записи одной строки логируется и не валит батч: терминал
// должен получить подтверждение и очистить свой буфер.
func (p *Pipeline) Ingest(dev models.Device, body string) int {
	d := wire.Dialect{Sep: dev.FieldSeparator, Encoding: dev.Encoding}
	recs := wire.ParseAttendance(body, d)
	if len(recs) == 0 {
		return 0
	}

	now := time.Now()
	accepted := make([]models.AttendanceLog, 0, len(recs))
	for _, r := range recs {
		rec := models.AttendanceLog{
			EmployeeID:   r.UserID,
			EventTime:    r.Timestamp,
			LogType:      wire.ClassifyPunch(r.Mode),
			RawMode:      r.Mode,
			SerialNumber: dev.SerialNumber,
			DeviceName:   dev.Name,
			SyncedAt:     now,
		}
		if err := p.store.Upsert(rec); err != nil {
			logs.Logger.Errorf("attlog upsert %s@%s: %v", rec.EmployeeID, rec.EventTime, err)
			continue
		}
		accepted = append(accepted, rec)
	}

	// fire-and-forget: ответ устройству не ждёт downstream
	if p.relay != nil && len(accepted) > 0 {
		p.relay.Dispatch(dev, accepted)
	}
	return len(accepted)
}
