package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const rateLimitMessage = "Слишком много запросов к звёздам одновременно. Подожди минуту и попробуй снова."

type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	ServerError string `json:"serverError,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeInternalError reports a 500; in dev mode the raw error is echoed in
// a serverError debug field.
func writeInternalError(w http.ResponseWriter, message string, cause any, dev bool) {
	resp := errorResponse{Error: message}
	if dev && cause != nil {
		resp.ServerError = fmt.Sprintf("%v", cause)
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}
