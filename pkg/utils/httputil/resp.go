package httputil

import (
	"encoding/json"
	"net/http"
)

func RespondJSON(rw http.ResponseWriter, resp any) {
	RespondJSONStatus(rw, http.StatusOK, resp)
}

func RespondJSONStatus(rw http.ResponseWriter, status int, resp any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func RespondError(rw http.ResponseWriter, status int, msg string) {
	RespondJSONStatus(rw, status, errorResponse{Error: msg})
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func RespondSuccess(rw http.ResponseWriter) {
	RespondJSON(rw, SuccessResponse{Success: true})
}
