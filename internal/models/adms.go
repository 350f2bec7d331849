package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Статусы команды. Переходы только вперёд: PENDING → SENT → {SUCCESS, FAIL}.
const (
	CmdPending = "PENDING"
	CmdSent    = "SENT"
	CmdSuccess = "SUCCESS"
	CmdFail    = "FAIL"
)

// Логические типы отметки (результат классификации сырого кода терминала).
const (
	LogCheckIn     = "CHECK-IN"
	LogCheckOut    = "CHECK-OUT"
	LogBreakOut    = "BREAK-OUT"
	LogBreakIn     = "BREAK-IN"
	LogOvertimeIn  = "OVERTIME-IN"
	LogOvertimeOut = "OVERTIME-OUT"
)

// Device — биометрический терминал. Создаётся автоматически при первом
// обращении с незнакомым серийником и никогда не удаляется этой подсистемой.
type Device struct {
	gorm.Model
	SerialNumber   string `gorm:"column:serial_number;uniqueIndex;size:64"`
	Name           string
	IPAddress      string `gorm:"column:ip_address;size:45"`
	Port           int
	Enabled        bool   `gorm:"default:true"`
	Location       string `gorm:"size:128"`
	AutoRegistered bool
	Online         bool // выставляется heartbeat'ом, снимается reconcile-джобой

	// health snapshot — из последнего status push
	UserCount        int
	FingerCount      int
	FaceCount        int
	TransactionCount int
	FWVersion        string `gorm:"column:fw_version;size:64"`
	Platform         string `gorm:"size:64"`
	DeviceName       string `gorm:"size:64"` // модель по версии самого устройства
	LastSeen         *time.Time

	// capability profile — выводится из status push
	HasFingerprint bool
	HasFace        bool
	HasPalm        bool
	HasCard        bool
	MaxUsers       int
	MaxFingers     int
	MaxFaces       int

	// dialect — то, как именно эта прошивка говорит по проводу
	FieldSeparator string `gorm:"size:4;default:'\t'"`
	Encoding       string `gorm:"size:16"`
	PushProtVer    string `gorm:"column:push_prot_ver;size:16"`

	// последний сырой status push как есть; незнакомые ключи не теряем
	RawOptions datatypes.JSON `gorm:"type:json"`
}

// DeviceCommand — одна команда для одного терминала. На провод уходит только
// 6-символьный суффикс CommandID, полный идентификатор остаётся у нас.
type DeviceCommand struct {
	gorm.Model
	CommandID    string `gorm:"column:command_id;uniqueIndex;size:32"`
	SerialNumber string `gorm:"column:serial_number;index;size:64"`
	Command      string `gorm:"type:text"`
	Status       string `gorm:"size:16;index;default:'PENDING'"`
	QueuedAt     time.Time
	SentAt       *time.Time
	CompletedAt  *time.Time
	ReturnCode   string `gorm:"size:16"`
	RawResult    string `gorm:"type:text"`
}

// AttendanceLog — одна отметка. Естественный ключ (employee_id, event_time)
// уникален: повторная загрузка того же события — апдейт метаданных, не дубль.
type AttendanceLog struct {
	gorm.Model
	EmployeeID   string    `gorm:"column:employee_id;size:32;uniqueIndex:ux_att_emp_time,priority:1"`
	EventTime    time.Time `gorm:"column:event_time;uniqueIndex:ux_att_emp_time,priority:2"`
	LogType      string    `gorm:"size:16"`
	RawMode      string    `gorm:"size:8"`
	SerialNumber string    `gorm:"column:serial_number;index;size:64"`
	DeviceName   string    `gorm:"size:128"`
	SyncedAt     time.Time
}

// DeviceUser — профиль сотрудника, один на весь парк (не на устройство).
// Last-writer-wins: любое устройство может его обновить.
type DeviceUser struct {
	gorm.Model
	EmployeeID string `gorm:"column:employee_id;uniqueIndex;size:32"`
	Name       string `gorm:"size:64"`
	Password   string `gorm:"size:32"`
	Card       string `gorm:"size:32"`
	Privilege  int
	Grp        string `gorm:"column:grp;size:16"` // "group" — зарезервированное слово

	FaceTemplate string `gorm:"type:text"` // base64, непрозрачный блоб
	FaceSize     int

	// серийник устройства, с которого пришло последнее изменение
	UpdatedBySN string `gorm:"column:updated_by_sn;size:64"`

	Fingers []FingerTemplate `gorm:"foreignKey:EmployeeID;references:EmployeeID"`
}

// FingerTemplate — шаблон одного пальца. Уникален по (employee_id, finger_index):
// замена идёт remove-then-insert в транзакции.
type FingerTemplate struct {
	gorm.Model
	EmployeeID  string `gorm:"column:employee_id;size:32;index:idx_finger_emp,priority:1"`
	FingerIndex int    `gorm:"index:idx_finger_emp,priority:2"`
	Template    string `gorm:"type:text"` // base64
	Size        int
	Valid       bool `gorm:"default:true"`
}

// RawLog — append-only журнал каждого входящего запроса от терминалов.
type RawLog struct {
	gorm.Model
	SerialNumber string `gorm:"column:serial_number;index;size:64"`
	TableName    string `gorm:"column:table_name;index;size:32"`
	Query        string `gorm:"type:text"`
	Body         string `gorm:"type:text"`
	Method       string `gorm:"size:8"`
	IPAddress    string `gorm:"column:ip_address;size:45"`
	ReceivedAt   time.Time `gorm:"index"`
}
