package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comigor/phonechat-go/internal/engine"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
)

// Error codes returned in {"code": ..., "error": ...} bodies. no_api_config and
// transport_error tell the UI to show the "configure your API" prompt.
const (
	CodeNoAPIConfig        = "no_api_config"
	CodeTransportError     = "transport_error"
	CodeGenerationInFlight = "generation_in_flight"
	CodeNothingPending     = "nothing_pending"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Warn("api: encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Code: code, Error: message})
}

// respondEngineError maps engine and llm errors to status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, llm.ErrNoAPIConfig):
		respondError(w, http.StatusServiceUnavailable, CodeNoAPIConfig, err.Error())
	case errors.Is(err, llm.ErrTransport):
		respondError(w, http.StatusServiceUnavailable, CodeTransportError, err.Error())
	case errors.Is(err, engine.ErrGenerationInFlight):
		respondError(w, http.StatusConflict, CodeGenerationInFlight, err.Error())
	case errors.Is(err, engine.ErrNothingPending):
		respondError(w, http.StatusConflict, CodeNothingPending, err.Error())
	case errors.Is(err, engine.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		logger.L.Error("api: unexpected error", "error", err)
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
