package registry

import (
	"fmt"
	"strings"
)

// Версия push-протокола, которую объявляет сервер.
const ServerVersion = "2.4.1"

/*
Два исторических диалекта рукопожатия. Текст ниже буквальный: прошивки
сравнивают строки как есть, менять формат нельзя.

Старый (GET /iclock/getrequest.aspx?SN=...&option=any) — битовые флаги:

	GET OPTION FROM: <SN>
	Stamp=9999
	...
	TransFlag=1111111111

Новый (GET /iclock/cdata.aspx?SN=...&options=all) — именованные флаги плюс
ServerVer/PushProtVer.
*/

// HandshakeLegacy — конфигурационный блок для option=any.
func (s *Service) HandshakeLegacy(serial string) string {
	lines := []string{
		"GET OPTION FROM: " + serial,
		"Stamp=9999",
		"OpStamp=9999",
		"PhotoStamp=9999",
		fmt.Sprintf("ErrorDelay=%d", s.opts.ErrorDelay),
		fmt.Sprintf("Delay=%d", s.opts.Delay),
		"TransTimes=00:00;14:05",
		fmt.Sprintf("TransInterval=%d", s.opts.TransInterval),
		"TransFlag=1111111111",
		"Realtime=1",
		"Encrypt=0",
	}
	return strings.Join(lines, "\n")
}

// HandshakePush — расширенный блок для нового диалекта (cdata.aspx GET).
func (s *Service) HandshakePush(serial string) string {
	lines := []string{
		"GET OPTION FROM: " + serial,
		"ATTLOGStamp=None",
		"OPERLOGStamp=None",
		"ATTPHOTOStamp=None",
		fmt.Sprintf("ErrorDelay=%d", s.opts.ErrorDelay),
		fmt.Sprintf("Delay=%d", s.opts.Delay),
		"TransTimes=00:00;14:05",
		fmt.Sprintf("TransInterval=%d", s.opts.TransInterval),
		"TransFlag=TransData AttLog OpLog AttPhoto EnrollUser ChgUser EnrollFP ChgFP UserPic",
		"TimeZone=0",
		"Realtime=1",
		"Encrypt=None",
		"ServerVer=" + ServerVersion,
		"PushProtVer=" + ServerVersion,
	}
	return strings.Join(lines, "\n")
}
