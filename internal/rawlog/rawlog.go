// Package rawlog — append-only журнал всех входящих запросов терминалов.
// Единственный способ увидеть, что на самом деле прислала прошивка:
// терминальные ручки ошибок наружу не отдают.
package rawlog

import (
	"time"

	"turnstile/internal/logs"
	"turnstile/internal/models"
)

type Filter struct {
	SerialNumber string
	TableName    string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

type Store interface {
	Append(r models.RawLog) error
	Query(f Filter) ([]models.RawLog, error)
}

type Log struct {
	store Store
}

func New(store Store) *Log {
	if store == nil {
		store = NewMemStore()
	}
	return &Log{store: store}
}

// Record пишет запись журнала. Сбой только логируется: аудит не имеет права
// завалить запрос, который он документирует.
func (l *Log) Record(serial, table, query, body, method, ip string) {
	err := l.store.Append(models.RawLog{
		SerialNumber: serial,
		TableName:    table,
		Query:        query,
		Body:         body,
		Method:       method,
		IPAddress:    ip,
		ReceivedAt:   time.Now(),
	})
	if err != nil {
		logs.Logger.Errorf("rawlog append (%s %s): %v", method, table, err)
	}
}

func (l *Log) Query(f Filter) ([]models.RawLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return l.store.Query(f)
}
