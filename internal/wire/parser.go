// Package wire разбирает текстовые форматы push-протокола ADMS.
//
// Все функции чистые и терпимые к мусору: битая строка пропускается,
// разбор продолжается. Терминал с испорченной прошивкой не должен
// блокировать валидные записи остальных в том же батче.
package wire

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout — формат времени на проводе: "2024-05-01 09:00:00".
const TimeLayout = "2006-01-02 15:04:05"

// Dialect — диалект конкретной прошивки: разделитель полей и кодировка.
type Dialect struct {
	Sep      string // "\t" или ","
	Encoding string
}

func DefaultDialect() Dialect { return Dialect{Sep: "\t", Encoding: "utf-8"} }

// AttendanceRecord — одна строка ATTLOG.
type AttendanceRecord struct {
	UserID    string
	Timestamp time.Time
	Mode      string // сырой код in/out, как прислало устройство
	RawFields []string
}

// ParseAttendance разбирает тело ATTLOG: строки вида
//
//	<pin><sep><timestamp><sep><mode><sep>...
//
// Битые строки (мало полей, нечитаемое время, пустой PIN) пропускаются.
func ParseAttendance(body string, d Dialect) []AttendanceRecord {
	sep := d.Sep
	if sep == "" {
		sep = "\t"
	}
	var out []AttendanceRecord
	for _, line := range splitLines(body) {
		fields := strings.Split(line, sep)
		if len(fields) < 2 {
			continue
		}
		pin := strings.TrimSpace(fields[0])
		if pin == "" {
			continue
		}
		ts, err := time.Parse(TimeLayout, strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		mode := "0"
		if len(fields) > 2 {
			mode = strings.TrimSpace(fields[2])
		}
		out = append(out, AttendanceRecord{
			UserID:    pin,
			Timestamp: ts,
			Mode:      mode,
			RawFields: fields,
		})
	}
	return out
}

// ParseKV разбирает блок KEY=VALUE<sep>KEY=VALUE... (status push, options).
// Незнакомые ключи сохраняются как есть, значение может содержать '='.
// Пары без '=' пропускаются.
func ParseKV(s, sep string) map[string]string {
	if sep == "" {
		sep = ","
	}
	out := map[string]string{}
	// status push приходит и через запятую, и построчно — нормализуем
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, chunk := range strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(sep, r) || r == '\n'
	}) {
		eq := strings.Index(chunk, "=")
		if eq <= 0 {
			continue
		}
		k := strings.TrimSpace(strings.TrimPrefix(chunk[:eq], "~"))
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(chunk[eq+1:])
	}
	return out
}

// UserInfo — строка "USER PIN=1<sep>Name=...<sep>Pri=0<sep>Passwd=...<sep>Card=...<sep>Grp=1".
type UserInfo struct {
	PIN       string
	Name      string
	Password  string
	Card      string
	Privilege int
	Grp       string
}

// ParseUserLine разбирает одну user-info строку. ok=false — строка не про пользователя.
func ParseUserLine(line string, d Dialect) (UserInfo, bool) {
	line = strings.TrimSpace(line)
	if after, found := strings.CutPrefix(line, "USER "); found {
		line = after
	}
	kv := ParseKV(line, sepOrTab(d))
	pin := kv["PIN"]
	if pin == "" {
		return UserInfo{}, false
	}
	pri, _ := strconv.Atoi(kv["Pri"])
	return UserInfo{
		PIN:       pin,
		Name:      kv["Name"],
		Password:  kv["Passwd"],
		Card:      kv["Card"],
		Privilege: pri,
		Grp:       kv["Grp"],
	}, true
}

// Виды биометрических записей.
const (
	TemplateFinger = "finger"
	TemplateFace   = "face"
)

// TemplateEntry — одна биометрическая запись (палец или лицо).
// DeclaredSize — размер, заявленный устройством; может расходиться с
// фактической длиной блоба, это не фатально (решает вызывающий).
type TemplateEntry struct {
	PIN          string
	Kind         string // TemplateFinger | TemplateFace
	FingerIndex  int
	Template     string // base64, непрозрачный блоб
	DeclaredSize int
	Valid        bool
}

// ParseTemplateLine разбирает "FP PIN=..<sep>FID=..<sep>Size=..<sep>Valid=1<sep>TMP=.."
// либо "FACE PIN=..<sep>FID=50<sep>SIZE=..<sep>Valid=1<sep>TMP=..".
func ParseTemplateLine(line string, d Dialect) (TemplateEntry, bool) {
	line = strings.TrimSpace(line)
	kind := TemplateFinger
	switch {
	case strings.HasPrefix(line, "FP "):
		line = strings.TrimPrefix(line, "FP ")
	case strings.HasPrefix(line, "FACE "):
		line = strings.TrimPrefix(line, "FACE ")
		kind = TemplateFace
	}
	kv := ParseKV(line, sepOrTab(d))
	pin := kv["PIN"]
	tmp := kv["TMP"]
	if pin == "" || tmp == "" {
		return TemplateEntry{}, false
	}
	fid, _ := strconv.Atoi(kv["FID"])
	size, ok := atoiAny(kv, "Size", "SIZE")
	if !ok {
		size = len(tmp)
	}
	// FID=50 у части прошивок означает лицо даже без префикса FACE
	if fid == 50 && kind == TemplateFinger && kv["FACE"] == "" {
		kind = TemplateFace
	}
	valid := kv["Valid"] != "0"
	return TemplateEntry{
		PIN:          pin,
		Kind:         kind,
		FingerIndex:  fid,
		Template:     tmp,
		DeclaredSize: size,
		Valid:        valid,
	}, true
}

func splitLines(body string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sepOrTab(d Dialect) string {
	if d.Sep == "" {
		return "\t"
	}
	return d.Sep
}

func atoiAny(kv map[string]string, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := kv[k]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
