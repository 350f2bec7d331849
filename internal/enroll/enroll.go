// Package enroll — общий профиль сотрудника и разгон биометрии по парку.
//
// Профиль один на employee id для всего парка: любое устройство может его
// обновить (last-writer-wins, без детекции конфликтов — так работает
// исходный протокол).
package enroll

import (
	"fmt"
	"strings"

	"turnstile/internal/cmdqueue"
	"turnstile/internal/logs"
	"turnstile/internal/models"
	"turnstile/internal/registry"
	"turnstile/internal/wire"
)

// Store — контракт хранилища профилей. ReplaceFingerprint обязан быть
// атомарным remove-then-insert по (employee_id, finger_index), иначе
// возможны дубликаты индексов.
type Store interface {
	UpsertProfile(u models.DeviceUser) error
	ReplaceFingerprint(f models.FingerTemplate, updatedBySN string) error
	UpsertFace(employeeID, template string, size int, updatedBySN string) error
	Get(employeeID string) (models.DeviceUser, bool, error)
	List(snFilter string) ([]models.DeviceUser, error)
}

type Service struct {
	store     Store
	queue     *cmdqueue.Queue
	devices   registry.Store
	autoClone bool
	tasks     chan func()
	done      chan struct{}
}

// NewService. autoClone — глобальный флаг авторазгона: выключен — изменения
// профилей не порождают команд. workers ограничивает фоновые fan-out задачи.
func NewService(store Store, queue *cmdqueue.Queue, devices registry.Store, autoClone bool, workers int) *Service {
	if store == nil {
		store = NewMemStore()
	}
	if workers <= 0 {
		workers = 2
	}
	s := &Service{
		store:     store,
		queue:     queue,
		devices:   devices,
		autoClone: autoClone,
		tasks:     make(chan func(), workers*16),
		done:      make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Service) worker() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

func (s *Service) Close() { close(s.done) }

func (s *Service) Store() Store { return s.store }

// UpsertProfile применяет user-info строку, пришедшую с устройства.
func (s *Service) UpsertProfile(u wire.UserInfo, sourceSN string) error {
	return s.store.UpsertProfile(models.DeviceUser{
		EmployeeID:  u.PIN,
		Name:        u.Name,
		Password:    u.Password,
		Card:        u.Card,
		Privilege:   u.Privilege,
		Grp:         u.Grp,
		UpdatedBySN: sourceSN,
	})
}

// UpsertTemplate применяет биометрическую запись (палец или лицо).
// Расхождение заявленного размера с длиной блоба — не фатально.
func (s *Service) UpsertTemplate(e wire.TemplateEntry, sourceSN string) error {
	if e.DeclaredSize != len(e.Template) {
		logs.Logger.Warnf("template PIN=%s FID=%d from %s: declared size %d, blob is %d",
			e.PIN, e.FingerIndex, sourceSN, e.DeclaredSize, len(e.Template))
	}
	if e.Kind == wire.TemplateFace {
		return s.store.UpsertFace(e.PIN, e.Template, e.DeclaredSize, sourceSN)
	}
	return s.store.ReplaceFingerprint(models.FingerTemplate{
		EmployeeID:  e.PIN,
		FingerIndex: e.FingerIndex,
		Template:    e.Template,
		Size:        e.DeclaredSize,
		Valid:       e.Valid,
	}, sourceSN)
}

// FanOutAsync ставит разгон в фоновый пул, если auto-clone включён.
// Не транзакционно с вызвавшей загрузкой — best-effort по построению.
func (s *Service) FanOutAsync(employeeID, sourceSN string) {
	if !s.autoClone {
		return
	}
	select {
	case s.tasks <- func() {
		if _, err := s.FanOut(employeeID, sourceSN); err != nil {
			logs.Logger.Warnf("fan-out %s from %s: %v", employeeID, sourceSN, err)
		}
	}:
	default:
		logs.Logger.Warnf("fan-out queue full, skipping %s from %s", employeeID, sourceSN)
	}
}

// FanOut ставит в очередь каждого другого включённого устройства команду
// профиля плюс по команде на каждый палец и лицо. Текст форматируется
// разделителем целевого устройства: парк разношёрстный, таб и запятая
// сосуществуют. Дедупликации с уже стоящими в очереди командами нет —
// повторная загрузка даёт повторные команды (терминалы применяют
// DATA UPDATE идемпотентно).
func (s *Service) FanOut(employeeID, sourceSN string) (int, error) {
	user, ok, err := s.store.Get(employeeID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no profile for employee %s", employeeID)
	}
	targets, err := s.devices.ListEnabled()
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, dev := range targets {
		if dev.SerialNumber == sourceSN {
			continue
		}
		n, err := s.cloneToDevice(user, dev)
		queued += n
		if err != nil {
			logs.Logger.Warnf("fan-out %s -> %s: %v", employeeID, dev.SerialNumber, err)
		}
	}
	if queued > 0 {
		logs.Logger.Infof("fan-out %s from %s: %d commands queued", employeeID, sourceSN, queued)
	}
	return queued, nil
}

// CloneTo — ручной разгон профиля на одно устройство (management API).
func (s *Service) CloneTo(employeeID, targetSN string) (int, error) {
	user, ok, err := s.store.Get(employeeID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no profile for employee %s", employeeID)
	}
	dev, ok, err := s.devices.FindBySerial(targetSN)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("unknown device %s", targetSN)
	}
	return s.cloneToDevice(user, dev)
}

func (s *Service) cloneToDevice(user models.DeviceUser, dev models.Device) (int, error) {
	sep := dev.FieldSeparator
	if sep == "" {
		sep = "\t"
	}
	queued := 0

	if _, err := s.queue.Enqueue(dev.SerialNumber, userCommand(user, sep)); err != nil {
		return queued, err
	}
	queued++

	for _, f := range user.Fingers {
		if _, err := s.queue.Enqueue(dev.SerialNumber, fingerCommand(user.EmployeeID, f, sep)); err != nil {
			return queued, err
		}
		queued++
	}
	if user.FaceTemplate != "" {
		if _, err := s.queue.Enqueue(dev.SerialNumber, faceCommand(user, sep)); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func userCommand(u models.DeviceUser, sep string) string {
	fields := []string{
		"PIN=" + u.EmployeeID,
		"Name=" + u.Name,
		fmt.Sprintf("Pri=%d", u.Privilege),
		"Passwd=" + u.Password,
		"Card=" + u.Card,
		"Grp=" + grpOrDefault(u.Grp),
		"TZ=0000000000000000",
	}
	return "DATA UPDATE USERINFO " + strings.Join(fields, sep)
}

func fingerCommand(pin string, f models.FingerTemplate, sep string) string {
	valid := "1"
	if !f.Valid {
		valid = "0"
	}
	fields := []string{
		"PIN=" + pin,
		fmt.Sprintf("FID=%d", f.FingerIndex),
		fmt.Sprintf("Size=%d", f.Size),
		"Valid=" + valid,
		"TMP=" + f.Template,
	}
	return "DATA UPDATE FINGERTMP " + strings.Join(fields, sep)
}

func faceCommand(u models.DeviceUser, sep string) string {
	fields := []string{
		"PIN=" + u.EmployeeID,
		"FID=50",
		fmt.Sprintf("SIZE=%d", u.FaceSize),
		"Valid=1",
		"TMP=" + u.FaceTemplate,
	}
	return "DATA UPDATE FACE " + strings.Join(fields, sep)
}

func grpOrDefault(g string) string {
	if g == "" {
		return "1"
	}
	return g
}
