// Package admsapi — management API поверх шлюза: постановка команд,
// ручной разгон профилей, просмотр пользователей, устройств и raw-журнала.
// В отличие от терминальных ручек здесь ошибки отдаются честным JSON.
package admsapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turnstile/internal/cmdqueue"
	"turnstile/internal/enroll"
	"turnstile/internal/models"
	"turnstile/internal/rawlog"
	"turnstile/internal/registry"

	"github.com/gorilla/mux"
)

type HTTP struct {
	registry *registry.Service
	queue    *cmdqueue.Queue
	enroll   *enroll.Service
	audit    *rawlog.Log
}

func NewHTTP(reg *registry.Service, queue *cmdqueue.Queue, enr *enroll.Service, audit *rawlog.Log) *HTTP {
	return &HTTP{registry: reg, queue: queue, enroll: enr, audit: audit}
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/adms").Subrouter()

	api.HandleFunc("/command", h.queueCommand).Methods(http.MethodPost)
	api.HandleFunc("/clone-user", h.cloneUser).Methods(http.MethodPost)
	api.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{serial}/commands", h.listCommands).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.queryLogs).Methods(http.MethodGet)
}

// POST /api/adms/command  {deviceId, command}
func (h *HTTP) queueCommand(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"deviceId"`
		Command  string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, 400, "invalid json", err.Error(), nil)
		return
	}
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.Command = strings.TrimSpace(in.Command)
	if in.DeviceID == "" || in.Command == "" {
		models.WriteProblem(w, 400, "validation failed", "deviceId and command are required", nil)
		return
	}
	if _, ok, err := h.registry.Store().FindBySerial(in.DeviceID); err != nil {
		models.WriteProblem(w, 500, "storage error", err.Error(), nil)
		return
	} else if !ok {
		models.WriteProblem(w, 404, "unknown device", "no device with serial "+in.DeviceID, nil)
		return
	}

	id, err := h.queue.Enqueue(in.DeviceID, in.Command)
	if err != nil {
		models.WriteProblem(w, 500, "enqueue failed", err.Error(), nil)
		return
	}
	writeJSON(w, 200, map[string]any{
		"success":   true,
		"commandId": id,
		"status":    models.CmdPending,
	})
}

// POST /api/adms/clone-user  {employeeId, targetSn}
func (h *HTTP) cloneUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EmployeeID string `json:"employeeId"`
		TargetSN   string `json:"targetSn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, 400, "invalid json", err.Error(), nil)
		return
	}
	if in.EmployeeID == "" || in.TargetSN == "" {
		models.WriteProblem(w, 400, "validation failed", "employeeId and targetSn are required", nil)
		return
	}

	queued, err := h.enroll.CloneTo(in.EmployeeID, in.TargetSN)
	if err != nil {
		// "нет профиля" и "нет устройства" — ошибки клиента, не сервера
		models.WriteProblem(w, 404, "clone failed", err.Error(), nil)
		return
	}
	writeJSON(w, 200, map[string]any{
		"success": true,
		"message": strconv.Itoa(queued) + " commands queued for " + in.TargetSN,
		"queued":  queued,
	})
}

// GET /api/adms/users?sn=...
func (h *HTTP) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.enroll.Store().List(r.URL.Query().Get("sn"))
	if err != nil {
		models.WriteProblem(w, 500, "storage error", err.Error(), nil)
		return
	}
	if users == nil {
		users = []models.DeviceUser{}
	}
	writeJSON(w, 200, users)
}

// GET /api/adms/devices
func (h *HTTP) listDevices(w http.ResponseWriter, _ *http.Request) {
	devs, err := h.registry.Store().ListAll()
	if err != nil {
		models.WriteProblem(w, 500, "storage error", err.Error(), nil)
		return
	}
	if devs == nil {
		devs = []models.Device{}
	}
	writeJSON(w, 200, devs)
}

// GET /api/adms/devices/{serial}/commands?limit=...
func (h *HTTP) listCommands(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cmds, err := h.queue.Store().ListBySerial(serial, limit)
	if err != nil {
		models.WriteProblem(w, 500, "storage error", err.Error(), nil)
		return
	}
	if cmds == nil {
		cmds = []models.DeviceCommand{}
	}
	writeJSON(w, 200, cmds)
}

// GET /api/adms/logs?serial=&table=&from=&to=&page=&pageSize=
// from/to — RFC3339 либо "2006-01-02 15:04:05".
func (h *HTTP) queryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("pageSize"))
	if size <= 0 || size > 500 {
		size = 50
	}

	f := rawlog.Filter{
		SerialNumber: q.Get("serial"),
		TableName:    q.Get("table"),
		Limit:        size,
		Offset:       (page - 1) * size,
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			models.WriteProblem(w, 400, "bad time", "from: "+err.Error(), nil)
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			models.WriteProblem(w, 400, "bad time", "to: "+err.Error(), nil)
			return
		}
		f.To = &t
	}

	rows, err := h.audit.Query(f)
	if err != nil {
		models.WriteProblem(w, 500, "storage error", err.Error(), nil)
		return
	}
	if rows == nil {
		rows = []models.RawLog{}
	}
	writeJSON(w, 200, map[string]any{
		"page":     page,
		"pageSize": size,
		"items":    rows,
	})
}

// ─────────────────────────── helpers ───────────────────────────

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
