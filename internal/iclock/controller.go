package iclock

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"turnstile/internal/cmdqueue"
	"turnstile/internal/enroll"
	"turnstile/internal/ingest"
	"turnstile/internal/logs"
	"turnstile/internal/models"
	"turnstile/internal/rawlog"
	"turnstile/internal/registry"
	"turnstile/internal/wire"

	"github.com/gorilla/mux"
)

/*
Терминальные ручки push-протокола:

GET  /iclock/getrequest.aspx?SN=&option=   heartbeat / старое рукопожатие / выдача команды
GET  /iclock/cdata.aspx?SN=&options=...    новое рукопожатие
POST /iclock/cdata.aspx?SN=&table=...      загрузка данных (ATTLOG/OPERLOG/USERINFO/FINGERTMP/FACE/options)
POST /iclock/devicecmd.aspx?SN=            результат выполнения команды

Контракт жёсткий: устройство всегда получает plain-text подтверждение.
Ошибка в ответ терминалу не уходит никогда — прошивки не умеют их
обрабатывать и уходят в retry-шторм.
*/

// максимум, который читаем из тела: прошивки шлют батчи до сотен килобайт
const maxBodyBytes = 4 << 20

type Controller struct {
	registry *registry.Service
	queue    *cmdqueue.Queue
	pipeline *ingest.Pipeline
	enroll   *enroll.Service
	audit    *rawlog.Log
}

func NewController(reg *registry.Service, queue *cmdqueue.Queue, pipeline *ingest.Pipeline, enr *enroll.Service, audit *rawlog.Log) *Controller {
	return &Controller{registry: reg, queue: queue, pipeline: pipeline, enroll: enr, audit: audit}
}

// ─────────────────────────── route registrar ───────────────────────────

func RegisterRoutes(root *mux.Router, c *Controller) {
	sub := root.PathPrefix("/iclock").Subrouter()
	sub.HandleFunc("/getrequest.aspx", c.handleGetRequest).Methods(http.MethodGet)
	sub.HandleFunc("/cdata.aspx", c.handleCDataGet).Methods(http.MethodGet)
	sub.HandleFunc("/cdata.aspx", c.handleCDataPost).Methods(http.MethodPost)
	sub.HandleFunc("/devicecmd.aspx", c.handleDeviceCmd).Methods(http.MethodPost)

	// незнакомые пути под /iclock/* — тоже OK: отказывать устройству нельзя
	sub.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, "OK")
	})
}

// ─────────────────────────── handlers ───────────────────────────

// GET /iclock/getrequest.aspx?SN=...&option=...
func (c *Controller) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")
	c.audit.Record(sn, "getrequest", r.URL.RawQuery, "", r.Method, remoteIP(r))
	if sn == "" {
		writeText(w, "OK")
		return
	}
	if _, err := c.registry.EnsureRegistered(sn, r.RemoteAddr); err != nil {
		logs.Logger.Errorf("getrequest %s: register: %v", sn, err)
		writeText(w, "OK") // ack в любом случае
		return
	}

	if r.URL.Query().Get("option") == "any" {
		writeText(w, c.registry.HandshakeLegacy(sn))
		return
	}

	cmd, ok, err := c.queue.NextPending(sn)
	if err != nil {
		logs.Logger.Errorf("getrequest %s: next pending: %v", sn, err)
		writeText(w, "OK")
		return
	}
	if !ok {
		writeText(w, "OK")
		return
	}
	writeText(w, cmdqueue.FormatWire(cmd))
}

// GET /iclock/cdata.aspx?SN=...&options=all&language=...&pushver=...
// Рукопожатие нового диалекта.
func (c *Controller) handleCDataGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sn := q.Get("SN")
	c.audit.Record(sn, "handshake", r.URL.RawQuery, "", r.Method, remoteIP(r))
	if sn == "" {
		writeText(w, "OK")
		return
	}
	if _, err := c.registry.EnsureRegistered(sn, r.RemoteAddr); err != nil {
		logs.Logger.Errorf("cdata %s: register: %v", sn, err)
		writeText(w, "OK")
		return
	}

	// pushver/language — часть диалекта, фиксируем сразу
	health := map[string]string{}
	if v := q.Get("pushver"); v != "" {
		health["PushVersion"] = v
	}
	if v := q.Get("language"); v != "" {
		health["Language"] = v
	}
	if len(health) > 0 {
		if err := c.registry.RecordHealth(sn, health); err != nil {
			logs.Logger.Warnf("cdata %s: record dialect: %v", sn, err)
		}
	}

	if q.Get("options") != "" || q.Get("pushver") != "" {
		writeText(w, c.registry.HandshakePush(sn))
		return
	}
	writeText(w, "OK")
}

// POST /iclock/cdata.aspx?SN=...&table=...
func (c *Controller) handleCDataPost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sn := q.Get("SN")
	table := q.Get("table")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logs.Logger.Warnf("cdata %s/%s: body read: %v", sn, table, err)
	}
	raw := string(body)
	c.audit.Record(sn, table, r.URL.RawQuery, raw, r.Method, remoteIP(r))
	if sn == "" {
		writeText(w, "OK")
		return
	}

	dev, err := c.registry.EnsureRegistered(sn, r.RemoteAddr)
	if err != nil {
		logs.Logger.Errorf("cdata %s: register: %v", sn, err)
		writeText(w, "OK")
		return
	}

	switch strings.ToUpper(table) {
	case "ATTLOG":
		n := c.pipeline.Ingest(dev, raw)
		writeText(w, "OK: "+strconv.Itoa(n))
		return

	case "OPERLOG", "USERINFO":
		// смешанный поток: OPLOG-строки (операции, нам не нужны),
		// USER-строки и биометрия вперемешку
		c.applyEnrollment(dev, raw)

	case "FINGERTMP", "FACE", "BIODATA":
		c.applyTemplates(dev, raw)

	case "OPTIONS", "INFO":
		if err := c.registry.RecordHealth(sn, wire.ParseKV(raw, ",")); err != nil {
			logs.Logger.Warnf("status push %s: %v", sn, err)
		}

	default:
		// незнакомая таблица: уже в raw-журнале, устройству — OK
		logs.Logger.Infof("device %s: unknown table %q (%d bytes), acknowledged", sn, table, len(raw))
	}
	writeText(w, "OK")
}

// POST /iclock/devicecmd.aspx?SN=...  тело: ID=<suffix>&Return=<code>&CMD=...
func (c *Controller) handleDeviceCmd(w http.ResponseWriter, r *http.Request) {
	sn := r.URL.Query().Get("SN")

	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	raw := strings.TrimSpace(string(body))
	c.audit.Record(sn, "devicecmd", r.URL.RawQuery, raw, r.Method, remoteIP(r))

	if sn != "" {
		if _, err := c.registry.EnsureRegistered(sn, r.RemoteAddr); err != nil {
			logs.Logger.Errorf("devicecmd %s: register: %v", sn, err)
		}
		// часть прошивок шлёт несколько результатов построчно
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			vals, err := url.ParseQuery(line)
			if err != nil {
				logs.Logger.Infof("devicecmd %s: unparseable result %q", sn, line)
				continue
			}
			id := vals.Get("ID")
			if id == "" {
				continue
			}
			if err := c.queue.CorrelateResult(sn, id, vals.Get("Return"), line); err != nil {
				logs.Logger.Errorf("devicecmd %s: correlate: %v", sn, err)
			}
		}
	}
	// безусловный ack: иначе устройство не очистит свою очередь
	writeText(w, "OK")
}

// ─────────────────────────── enrollment plumbing ───────────────────────────

// applyEnrollment обрабатывает построчно USER-строки и биометрию:
// в OPERLOG они идут вперемешку с OPLOG-строками операций.
func (c *Controller) applyEnrollment(dev models.Device, raw string) {
	d := wire.Dialect{Sep: dev.FieldSeparator, Encoding: dev.Encoding}
	touched := map[string]struct{}{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "FP ") || strings.HasPrefix(line, "FACE ") {
			if e, ok := wire.ParseTemplateLine(line, d); ok {
				if err := c.enroll.UpsertTemplate(e, dev.SerialNumber); err != nil {
					logs.Logger.Errorf("enroll template %s from %s: %v", e.PIN, dev.SerialNumber, err)
					continue
				}
				touched[e.PIN] = struct{}{}
			}
			continue
		}
		if u, ok := wire.ParseUserLine(line, d); ok {
			if err := c.enroll.UpsertProfile(u, dev.SerialNumber); err != nil {
				logs.Logger.Errorf("enroll profile %s from %s: %v", u.PIN, dev.SerialNumber, err)
				continue
			}
			touched[u.PIN] = struct{}{}
		}
		// остальное (OPLOG и прочее) — мимо: уже в raw-журнале
	}
	for pin := range touched {
		c.enroll.FanOutAsync(pin, dev.SerialNumber)
	}
}

func (c *Controller) applyTemplates(dev models.Device, raw string) {
	d := wire.Dialect{Sep: dev.FieldSeparator, Encoding: dev.Encoding}
	touched := map[string]struct{}{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		e, ok := wire.ParseTemplateLine(line, d)
		if !ok {
			continue
		}
		if err := c.enroll.UpsertTemplate(e, dev.SerialNumber); err != nil {
			logs.Logger.Errorf("enroll template %s from %s: %v", e.PIN, dev.SerialNumber, err)
			continue
		}
		touched[e.PIN] = struct{}{}
	}
	for pin := range touched {
		c.enroll.FanOutAsync(pin, dev.SerialNumber)
	}
}

// ─────────────────────────── helpers ───────────────────────────

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
