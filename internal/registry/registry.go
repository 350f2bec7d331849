package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"turnstile/internal/logs"
	"turnstile/internal/models"
)

// Store — контракт хранилища устройств.
// Атомарность CreateIfAbsent по serial_number — обязанность реализации
// (gorm: INSERT ... ON CONFLICT DO NOTHING + refetch).
type Store interface {
	FindBySerial(serial string) (models.Device, bool, error)
	// CreateIfAbsent создаёт устройство, если серийник ещё не занят.
	// Возвращает актуальную запись и признак "создали сейчас".
	CreateIfAbsent(d models.Device) (models.Device, bool, error)
	UpdateFields(serial string, fields map[string]any) error
	CountAutoRegistered() (int64, error)
	ListEnabled() ([]models.Device, error)
	ListAll() ([]models.Device, error)
}

// Opts — параметры, которые сервер объявляет терминалам при рукопожатии.
type Opts struct {
	ErrorDelay    int
	Delay         int
	TransInterval int
}

func DefaultOpts() Opts { return Opts{ErrorDelay: 30, Delay: 10, TransInterval: 1} }

type Service struct {
	store Store
	opts  Opts
}

func NewService(store Store, opts Opts) *Service {
	if store == nil {
		store = NewMemStore()
	}
	if opts.ErrorDelay == 0 {
		opts.ErrorDelay = 30
	}
	if opts.Delay == 0 {
		opts.Delay = 10
	}
	if opts.TransInterval == 0 {
		opts.TransInterval = 1
	}
	return &Service{store: store, opts: opts}
}

func (s *Service) Store() Store { return s.store }

// EnsureRegistered — атомарный find-or-create по серийнику. Незнакомое
// устройство заводится само: имя из последовательности Auto-ADMS-N,
// дефолтный профиль возможностей. Отказать устройству нельзя — его
// прошивку не перенастроить.
func (s *Service) EnsureRegistered(serial, sourceAddr string) (models.Device, error) {
	ip, port := splitHostPort(sourceAddr)
	now := time.Now()

	dev, found, err := s.store.FindBySerial(serial)
	if err != nil {
		return models.Device{}, err
	}
	if found {
		fields := map[string]any{"last_seen": now, "online": true}
		if ip != "" && ip != dev.IPAddress {
			logs.Logger.Infof("device %s address drift: %s -> %s", serial, dev.IPAddress, ip)
			fields["ip_address"] = ip
			if port != 0 {
				fields["port"] = port
			}
			dev.IPAddress = ip
		}
		if err := s.store.UpdateFields(serial, fields); err != nil {
			logs.Logger.Warnf("device %s touch: %v", serial, err)
		}
		dev.LastSeen = &now
		return dev, nil
	}

	// Два конкурентных heartbeat с одним серийником могут насчитать один и
	// тот же N — дубликат устройства всё равно невозможен (уникальный индекс),
	// а совпадение имён у разных серийников терпимо.
	n, err := s.store.CountAutoRegistered()
	if err != nil {
		return models.Device{}, err
	}
	fresh := models.Device{
		SerialNumber:   serial,
		Name:           fmt.Sprintf("Auto-ADMS-%d", n+1),
		IPAddress:      ip,
		Port:           port,
		Enabled:        true,
		Online:         true,
		Location:       "Auto-Registered",
		AutoRegistered: true,
		HasFingerprint: true, // дефолтный профиль до первого status push
		FieldSeparator: "\t",
		Encoding:       "utf-8",
		LastSeen:       &now,
	}
	dev, created, err := s.store.CreateIfAbsent(fresh)
	if err != nil {
		return models.Device{}, err
	}
	if created {
		logs.Logger.Infof("auto-registered device %s as %q from %s", serial, dev.Name, sourceAddr)
	}
	return dev, nil
}

// RecordHealth обновляет health snapshot и перевычисляет профиль
// возможностей из свежего status push. Только побочный эффект: запрос,
// который его принёс, из-за ошибки здесь не падает (решает вызывающий).
func (s *Service) RecordHealth(serial string, kv map[string]string) error {
	fields := map[string]any{}

	setInt := func(col string, keys ...string) {
		for _, k := range keys {
			if v, ok := kv[k]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					fields[col] = n
					return
				}
			}
		}
	}
	setStr := func(col string, keys ...string) {
		for _, k := range keys {
			if v, ok := kv[k]; ok && v != "" {
				fields[col] = v
				return
			}
		}
	}

	setInt("user_count", "UserCount")
	setInt("finger_count", "FPCount", "FingerCount")
	setInt("face_count", "FaceCount")
	setInt("transaction_count", "TransactionCount", "AttCount")
	setInt("max_users", "MaxUserCount")
	setInt("max_fingers", "MaxFingerCount", "MaxUserFingerCount")
	setInt("max_faces", "MaxFaceCount")
	setStr("fw_version", "FWVersion", "FirmVer")
	setStr("platform", "Platform")
	setStr("device_name", "DeviceName", "~DeviceName")
	setStr("push_prot_ver", "PushVersion", "PushProtVer")

	// capability flags
	if v, ok := kv["FingerFunOn"]; ok {
		fields["has_fingerprint"] = v == "1"
	} else if v, ok := kv["FPVersion"]; ok {
		fields["has_fingerprint"] = v != "" && v != "0"
	}
	if v, ok := kv["FaceFunOn"]; ok {
		fields["has_face"] = v == "1"
	} else if v, ok := kv["FaceVersion"]; ok {
		fields["has_face"] = v != "" && v != "0"
	}
	if v, ok := kv["PvFunOn"]; ok {
		fields["has_palm"] = v == "1"
	}
	if v, ok := kv["CardProtFormat"]; ok {
		fields["has_card"] = v != ""
	} else if v, ok := kv["RFCardOn"]; ok {
		fields["has_card"] = v == "1"
	}

	// dialect из platform: старые платы ZEM500/ZEM510 разделяют поля запятой,
	// всё остальное — табуляцией
	if p, ok := kv["Platform"]; ok && p != "" {
		fields["field_separator"] = SeparatorForPlatform(p)
	}
	if v, ok := kv["Language"]; ok && v != "" {
		fields["encoding"] = encodingForLanguage(v)
	}

	if raw, err := json.Marshal(kv); err == nil {
		fields["raw_options"] = raw
	}
	fields["last_seen"] = time.Now()
	fields["online"] = true

	return s.store.UpdateFields(serial, fields)
}

// ReconcileOffline снимает флаг online с устройств, которые молчат дольше
// window. Возвращает число помеченных. Зовётся периодической джобой.
func (s *Service) ReconcileOffline(window time.Duration) (int, error) {
	devs, err := s.store.ListAll()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-window)
	marked := 0
	for _, d := range devs {
		if !d.Online {
			continue
		}
		if d.LastSeen != nil && d.LastSeen.After(cutoff) {
			continue
		}
		if err := s.store.UpdateFields(d.SerialNumber, map[string]any{"online": false}); err != nil {
			logs.Logger.Warnf("reconcile %s: %v", d.SerialNumber, err)
			continue
		}
		logs.Logger.Infof("device %s marked offline (last seen %v)", d.SerialNumber, d.LastSeen)
		marked++
	}
	return marked, nil
}

// SeparatorForPlatform — прошивочная особенность: серия ZEM5xx шлёт поля
// через запятую, остальные через таб.
func SeparatorForPlatform(platform string) string {
	p := strings.ToUpper(platform)
	if strings.Contains(p, "ZEM500") || strings.Contains(p, "ZEM510") {
		return ","
	}
	return "\t"
}

func encodingForLanguage(lang string) string {
	switch lang {
	case "83", "gb2312":
		return "gb2312"
	default:
		return "utf-8"
	}
}

func splitHostPort(addr string) (string, int) {
	if addr == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
