package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"turnstile/internal/logs"
	"turnstile/internal/models"
)

// Заголовок с общим секретом для HR-вебхука.
const relaySecretHeader = "X-Relay-Secret"

// Relay — best-effort доставка батча отметок во внешнюю HR-систему.
// Клиент инжектится (в тестах — фейковый транспорт), таймаут ограничен,
// исход только логируется: медленный downstream не должен задерживать
// подтверждение терминалу, иначе прошивка уходит в retry-шторм.
type Relay struct {
	client  *http.Client
	baseURL string
	secret  string
	tasks   chan func()
	done    chan struct{}
}

type relayPayload struct {
	SerialNumber string       `json:"serialNumber"`
	DeviceName   string       `json:"deviceName"`
	Logs         []relayEntry `json:"logs"`
}

type relayEntry struct {
	EmployeeID string `json:"employeeId"`
	Timestamp  string `json:"timestamp"`
	LogType    string `json:"logType"`
}

// NewRelay. workers ограничивает параллелизм фоновых отправок; очередь
// конечна — при переполнении батч отбрасывается с логом (это осознанно:
// лучше потерять доставку в HR, чем копить горутины под нагрузкой).
func NewRelay(client *http.Client, baseURL, secret string, timeout time.Duration, workers int) *Relay {
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		client.Timeout = timeout
	}
	if workers <= 0 {
		workers = 4
	}
	r := &Relay{
		client:  client,
		baseURL: baseURL,
		secret:  secret,
		tasks:   make(chan func(), workers*8),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

func (r *Relay) worker() {
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.done:
			return
		}
	}
}

// Close останавливает воркеров. Уже стоящие в очереди задачи теряются —
// доставка и так best-effort.
func (r *Relay) Close() { close(r.done) }

// Dispatch ставит отправку батча в фоновый пул и сразу возвращается.
func (r *Relay) Dispatch(dev models.Device, batch []models.AttendanceLog) {
	if r.baseURL == "" || len(batch) == 0 {
		return
	}
	payload := relayPayload{
		SerialNumber: dev.SerialNumber,
		DeviceName:   dev.Name,
		Logs:         make([]relayEntry, 0, len(batch)),
	}
	for _, l := range batch {
		payload.Logs = append(payload.Logs, relayEntry{
			EmployeeID: l.EmployeeID,
			Timestamp:  l.EventTime.Format("2006-01-02 15:04:05"),
			LogType:    l.LogType,
		})
	}

	select {
	case r.tasks <- func() { r.send(payload) }:
	default:
		logs.Logger.Warnf("relay queue full, dropping batch of %d from %s", len(batch), dev.SerialNumber)
	}
}

func (r *Relay) send(payload relayPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logs.Logger.Errorf("relay marshal: %v", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/webhook/attendance", bytes.NewReader(body))
	if err != nil {
		logs.Logger.Errorf("relay request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set(relaySecretHeader, r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logs.Logger.Warnf("relay %d logs from %s failed: %v", len(payload.Logs), payload.SerialNumber, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logs.Logger.Warnf("relay %d logs from %s: downstream returned %d", len(payload.Logs), payload.SerialNumber, resp.StatusCode)
		return
	}
	logs.Logger.Debugf("relayed %d logs from %s", len(payload.Logs), payload.SerialNumber)
}
