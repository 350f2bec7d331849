package models

import (
	"encoding/json"
	"net/http"
)

// Problem — тело ошибки для management API (в духе RFC 7807).
// Терминальные ручки /iclock/* этим не пользуются: устройства не умеют
// обрабатывать ошибки, им всегда отвечают plain-text подтверждением.
type Problem struct {
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Title: title, Status: status, Detail: detail, Extra: extra})
}
