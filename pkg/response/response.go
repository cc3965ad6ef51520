package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform reply shape of the wallet API. Status is "success"
// or "error"; Code echoes the HTTP status so archived bodies can be read
// without the transport line.
type Envelope struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// JSON writes a success envelope carrying data.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Envelope{Status: "success", Code: status, Data: data})
}

// Error writes an error envelope carrying a human-readable message.
func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, Envelope{Status: "error", Code: status, Message: msg})
}
