// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateAttendanceUniqueIndex — уникальность по естественному ключу
// (employee_id, event_time). AutoMigrate создаёт составной индекс из тегов,
// но на старых инсталляциях индекс мог называться иначе — приводим к одному виду.
func MigrateAttendanceUniqueIndex(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if db.Migrator().HasIndex("attendance_logs", "ux_att_emp_time") {
		return nil
	}
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		return db.Exec("CREATE UNIQUE INDEX `ux_att_emp_time` ON `attendance_logs` (`employee_id`, `event_time`)").Error

	case "postgres":
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_att_emp_time ON "attendance_logs" ("employee_id", "event_time")`).Error

	case "sqlite":
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_att_emp_time ON attendance_logs (employee_id, event_time)`).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
