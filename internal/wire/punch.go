package wire

// Коды режима отметки по прошивке → логический тип.
// Таблица фиксированная; незнакомый код считаем приходом (CHECK-IN),
// ошибкой это не является — терминалы шлют и 255, и вендорские значения.
var punchModes = map[string]string{
	"0":   "CHECK-IN",
	"1":   "CHECK-OUT",
	"2":   "BREAK-OUT",
	"3":   "BREAK-IN",
	"4":   "OVERTIME-IN",
	"5":   "OVERTIME-OUT",
	"255": "CHECK-IN",
}

func ClassifyPunch(rawMode string) string {
	if t, ok := punchModes[rawMode]; ok {
		return t
	}
	return "CHECK-IN"
}
